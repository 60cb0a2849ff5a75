// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Room model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no authorization or business rules, only persistence and query
// composition.
//
// Error semantics:
//   - When a room is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// RoomSummary is a room as seen by one participant.
type RoomSummary struct {
	domain.Room
	UnreadCount int64 `json:"unread_count"`
}

// GetOrCreateRoom returns the room for (patientID, doctorID), inserting it
// first if absent. Concurrent callers converge on a single row: the insert
// is ON CONFLICT DO NOTHING against ux_rooms_pair and the winner is re-read.
// created reports whether this call inserted the row.
func GetOrCreateRoom(ctx context.Context, db *gorm.DB, patientID, doctorID uint64) (room *domain.Room, created bool, err error) {
	now := time.Now().UTC()
	candidate := &domain.Room{
		ID:        uuid.NewString(),
		PatientID: patientID,
		DoctorID:  doctorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "patient_id"}, {Name: "doctor_id"}},
			DoNothing: true,
		}).
		Create(candidate)
	if res.Error != nil {
		return nil, false, res.Error
	}

	var r domain.Room
	if err := db.WithContext(ctx).
		Where("patient_id = ? AND doctor_id = ?", patientID, doctorID).
		First(&r).Error; err != nil {
		return nil, false, err
	}
	return &r, res.RowsAffected == 1 && r.ID == candidate.ID, nil
}

// GetRoom fetches a room by id or returns ErrNotFound.
func GetRoom(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error) {
	var r domain.Room
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoomsFor returns every room p participates in, most recent activity
// first. Rooms without messages sort last, newest first among themselves.
// Each summary carries p's unread count for that room.
func ListRoomsFor(ctx context.Context, db *gorm.DB, p domain.Participant) ([]RoomSummary, error) {
	var rooms []domain.Room
	err := db.WithContext(ctx).
		Where(participantColumn(p)+" = ?", p.ID).
		Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END, last_message_at DESC, created_at DESC, id ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return []RoomSummary{}, nil
	}

	ids := make([]string, len(rooms))
	for i := range rooms {
		ids[i] = rooms[i].ID
	}
	var markers []domain.ReadMarker
	err = db.WithContext(ctx).
		Where("room_id IN ? AND participant_role = ? AND participant_id = ?", ids, p.Role, p.ID).
		Find(&markers).Error
	if err != nil {
		return nil, err
	}
	unread := make(map[string]int64, len(markers))
	for _, m := range markers {
		unread[m.RoomID] = m.UnreadCount
	}

	out := make([]RoomSummary, len(rooms))
	for i, r := range rooms {
		out[i] = RoomSummary{Room: r, UnreadCount: unread[r.ID]}
	}
	return out, nil
}

// AllocateSeq reserves the next sequence number of a room. It must run
// inside the append transaction: the UPDATE comes first so the transaction
// holds the room's write lock before anything is read.
func AllocateSeq(ctx context.Context, tx *gorm.DB, roomID string) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ?", roomID).
		UpdateColumn("last_seq", gorm.Expr("last_seq + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var seq int64
	if err := tx.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ?", roomID).
		Pluck("last_seq", &seq).Error; err != nil {
		return 0, err
	}
	return seq, nil
}

// LockRoom takes the room's row lock inside tx without changing it and
// returns the current last_seq. Readers that must not interleave with an
// append (marker recounts) call it first.
func LockRoom(ctx context.Context, tx *gorm.DB, roomID string) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ?", roomID).
		UpdateColumn("last_seq", gorm.Expr("last_seq"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var seq int64
	err := tx.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", roomID).Pluck("last_seq", &seq).Error
	return seq, err
}

// TouchRoom records the latest message preview on the room.
func TouchRoom(ctx context.Context, tx *gorm.DB, roomID, snippet string, at time.Time) error {
	return tx.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ?", roomID).
		UpdateColumns(map[string]any{
			"last_message_snippet": snippet,
			"last_message_at":      at,
			"updated_at":           at,
		}).Error
}

func participantColumn(p domain.Participant) string {
	if p.Role == domain.RoleDoctor {
		return "doctor_id"
	}
	return "patient_id"
}

// Rooms exposes the room functions as a value satisfying
// services.RoomRepo.
type Rooms struct{}

func (Rooms) GetOrCreateRoom(ctx context.Context, db *gorm.DB, patientID, doctorID uint64) (*domain.Room, bool, error) {
	return GetOrCreateRoom(ctx, db, patientID, doctorID)
}

func (Rooms) GetRoom(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error) {
	return GetRoom(ctx, db, id)
}

func (Rooms) ListRoomsFor(ctx context.Context, db *gorm.DB, p domain.Participant) ([]RoomSummary, error) {
	return ListRoomsFor(ctx, db, p)
}
