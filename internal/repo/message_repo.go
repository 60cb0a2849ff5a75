// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

// InsertMessage persists m as is; the caller assigns ID and Seq.
func InsertMessage(ctx context.Context, tx *gorm.DB, m *domain.Message) error {
	return tx.WithContext(ctx).Omit(assocRoom).Create(m).Error
}

// ListMessagesSince returns messages with seq > since in ascending seq order.
// A limit <= 0 means no limit.
func ListMessagesSince(ctx context.Context, db *gorm.DB, roomID string, since int64, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomID, since).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, roomID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE room_id = ?", roomID).Scan(&total).Error
	return total, err
}

// assocRoom names the belongs-to association skipped on insert.
const assocRoom = "Room"
