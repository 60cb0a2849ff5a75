// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file maintains per-participant read markers and the
// unread counters derived from them.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

var markerKey = []clause.Column{{Name: "room_id"}, {Name: "participant_role"}, {Name: "participant_id"}}

// IncrementUnread adds one unread message to p's marker in roomID, creating
// the marker on first use.
func IncrementUnread(ctx context.Context, tx *gorm.DB, roomID string, p domain.Participant, now time.Time) error {
	m := &domain.ReadMarker{
		RoomID:          roomID,
		ParticipantRole: p.Role,
		ParticipantID:   p.ID,
		UnreadCount:     1,
		UpdatedAt:       now,
	}
	return tx.WithContext(ctx).
		Omit(assocRoom).
		Clauses(clause.OnConflict{
			Columns: markerKey,
			DoUpdates: clause.Assignments(map[string]any{
				"unread_count": gorm.Expr("read_markers.unread_count + 1"),
				"updated_at":   now,
			}),
		}).
		Create(m).Error
}

// AdvanceMarker moves p's last_read_seq forward to through. A smaller value
// leaves the marker unchanged. Counterpart messages up to the resulting
// marker are flagged read and unread_count is recomputed from the messages
// table. The updated marker is returned.
func AdvanceMarker(ctx context.Context, tx *gorm.DB, roomID string, p domain.Participant, through int64, now time.Time) (*domain.ReadMarker, error) {
	db := tx.WithContext(ctx)
	m := &domain.ReadMarker{
		RoomID:          roomID,
		ParticipantRole: p.Role,
		ParticipantID:   p.ID,
		LastReadSeq:     through,
		UpdatedAt:       now,
	}
	err := db.Omit(assocRoom).
		Clauses(clause.OnConflict{
			Columns: markerKey,
			DoUpdates: clause.Assignments(map[string]any{
				"last_read_seq": gorm.Expr("CASE WHEN read_markers.last_read_seq < excluded.last_read_seq THEN excluded.last_read_seq ELSE read_markers.last_read_seq END"),
				"updated_at":    now,
			}),
		}).
		Create(m).Error
	if err != nil {
		return nil, err
	}

	cur, err := GetMarker(ctx, tx, roomID, p)
	if err != nil {
		return nil, err
	}

	err = db.Model(&domain.Message{}).
		Where("room_id = ? AND sender_role <> ? AND seq <= ? AND read = ?", roomID, p.Role, cur.LastReadSeq, false).
		UpdateColumns(map[string]any{"read": true, "read_at": now}).Error
	if err != nil {
		return nil, err
	}

	var unread int64
	err = db.Model(&domain.Message{}).
		Where("room_id = ? AND sender_role <> ? AND seq > ?", roomID, p.Role, cur.LastReadSeq).
		Count(&unread).Error
	if err != nil {
		return nil, err
	}
	if unread != cur.UnreadCount {
		err = db.Model(&domain.ReadMarker{}).
			Where("room_id = ? AND participant_role = ? AND participant_id = ?", roomID, p.Role, p.ID).
			UpdateColumn("unread_count", unread).Error
		if err != nil {
			return nil, err
		}
		cur.UnreadCount = unread
	}
	return cur, nil
}

// GetMarker returns p's marker or ErrNotFound.
func GetMarker(ctx context.Context, db *gorm.DB, roomID string, p domain.Participant) (*domain.ReadMarker, error) {
	var m domain.ReadMarker
	err := db.WithContext(ctx).
		Where("room_id = ? AND participant_role = ? AND participant_id = ?", roomID, p.Role, p.ID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UnreadCount returns p's unread counter for roomID; 0 when no marker exists.
func UnreadCount(ctx context.Context, db *gorm.DB, roomID string, p domain.Participant) (int64, error) {
	m, err := GetMarker(ctx, db, roomID, p)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.UnreadCount, nil
}
