package domain

import "time"

// Idempotency records the outcome of a previously processed send, keyed by
// (participant, room_id, key). A retried request carrying the same key is
// answered with the original message instead of appending a duplicate.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Participant string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_participant_room_key,priority:1"`
	RoomID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_participant_room_key,priority:2"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_participant_room_key,priority:3"`
	MessageID   string    `gorm:"type:TEXT NOT NULL"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
