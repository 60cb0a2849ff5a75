// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

// RoomsStats returns aggregate metadata for p's room list: the number of
// rooms, the greatest rooms.updated_at, and the sum of p's unread counters.
// When p has no rooms the result is (0, nil, 0).
func RoomsStats(ctx context.Context, db *gorm.DB, p domain.Participant) (count int64, maxUpdatedAt *time.Time, unread int64, err error) {
	rooms := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Room{}).Where(participantColumn(p)+" = ?", p.ID)
	}

	if err = rooms().Count(&count).Error; err != nil {
		return 0, nil, 0, err
	}
	if count == 0 {
		return 0, nil, 0, nil
	}

	// latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = rooms().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, 0, err
	}

	err = db.WithContext(ctx).
		Model(&domain.ReadMarker{}).
		Where("participant_role = ? AND participant_id = ?", p.Role, p.ID).
		Select("COALESCE(SUM(unread_count), 0)").
		Row().Scan(&unread)
	if err != nil {
		return 0, nil, 0, err
	}
	return count, &row.UpdatedAt, unread, nil
}

// MessagesStats returns the number of messages in roomID and how many of
// them are flagged read. Messages are append-only, so the pair changes
// whenever the visible history changes.
func MessagesStats(ctx context.Context, db *gorm.DB, roomID string) (count, readCount int64, err error) {
	msgs := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Message{}).Where("room_id = ?", roomID)
	}
	if err = msgs().Count(&count).Error; err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}
	if err = msgs().Where("read = ?", true).Count(&readCount).Error; err != nil {
		return 0, 0, err
	}
	return count, readCount, nil
}
