// Package services – RoomService
//
// This file implements the room directory: idempotent get-or-create of the
// single room shared by a (patient, doctor) pair, participant-scoped lookup,
// and the caller's room list. Authorization is decided here; the repository
// below only persists.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-consult-chat/internal/domain"
	"github.com/tbourn/go-consult-chat/internal/repo"
)

// RoomRepo defines the repository contract required by RoomService.
type RoomRepo interface {
	// GetOrCreateRoom returns the pair's room, inserting it if absent.
	GetOrCreateRoom(ctx context.Context, db *gorm.DB, patientID, doctorID uint64) (*domain.Room, bool, error)

	// GetRoom fetches a room by id.
	GetRoom(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error)

	// ListRoomsFor returns the participant's rooms with unread counts.
	ListRoomsFor(ctx context.Context, db *gorm.DB, p domain.Participant) ([]repo.RoomSummary, error)
}

// ContactPolicy decides whether a patient and a doctor may open a room.
// Appointment-based gating belongs to the booking system and is plugged in
// here; a non-nil error refuses contact.
type ContactPolicy interface {
	AllowContact(ctx context.Context, patientID, doctorID uint64) error
}

// AllowAll is the default ContactPolicy.
type AllowAll struct{}

// AllowContact implements ContactPolicy.
func (AllowAll) AllowContact(context.Context, uint64, uint64) error { return nil }

// RoomService is the room directory.
type RoomService struct {
	DB     *gorm.DB
	Repo   RoomRepo
	Policy ContactPolicy

	// LockTimeout bounds the wait on a pair's creation lock.
	LockTimeout time.Duration

	locks *roomLocks
}

// NewRoomService constructs a RoomService with an allow-all contact policy.
func NewRoomService(db *gorm.DB, r RoomRepo, lockTimeout time.Duration) *RoomService {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &RoomService{
		DB:          db,
		Repo:        r,
		Policy:      AllowAll{},
		LockTimeout: lockTimeout,
		locks:       newRoomLocks(),
	}
}

// Open returns the room between caller and the counterpart identified by
// counterpartID, creating it on first contact. A patient names a doctor and
// a doctor names a patient. created reports whether the room is new.
func (s *RoomService) Open(ctx context.Context, caller domain.Participant, counterpartID uint64) (room *domain.Room, created bool, err error) {
	if counterpartID == 0 || !caller.Role.Valid() {
		return nil, false, ErrInvalidCounterpart
	}
	patientID, doctorID := caller.ID, counterpartID
	if caller.Role == domain.RoleDoctor {
		patientID, doctorID = counterpartID, caller.ID
	}
	if s.Policy != nil {
		if err := s.Policy.AllowContact(ctx, patientID, doctorID); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	return s.GetOrCreate(ctx, patientID, doctorID)
}

// GetOrCreate returns the unique room for (patientID, doctorID). Concurrent
// calls for the same pair return the same room id and leave one row.
func (s *RoomService) GetOrCreate(ctx context.Context, patientID, doctorID uint64) (*domain.Room, bool, error) {
	ctx, span := otel.Tracer("services/RoomService").Start(ctx, "GetOrCreate",
		trace.WithAttributes(
			attribute.Int64("patient.id", int64(patientID)),
			attribute.Int64("doctor.id", int64(doctorID)),
		),
	)
	defer span.End()

	if patientID == 0 || doctorID == 0 {
		return nil, false, ErrInvalidCounterpart
	}

	key := "pair:" + strconv.FormatUint(patientID, 10) + ":" + strconv.FormatUint(doctorID, 10)
	release, err := s.locks.acquire(ctx, key, s.LockTimeout)
	if err != nil {
		if errors.Is(err, ErrRoomBusy) {
			lockTimeouts.WithLabelValues("pair").Inc()
		}
		return nil, false, err
	}
	defer release()

	room, created, err := s.Repo.GetOrCreateRoom(ctx, s.DB, patientID, doctorID)
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	span.SetAttributes(attribute.String("room.id", room.ID), attribute.Bool("room.created", created))
	return room, created, nil
}

// Get returns the room when caller is one of its participants. Unknown ids
// and foreign rooms both yield ErrForbidden.
func (s *RoomService) Get(ctx context.Context, roomID string, caller domain.Participant) (*domain.Room, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return nil, ErrInvalidRoomRef
	}
	room, err := s.Repo.GetRoom(ctx, s.DB, roomID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !room.Has(caller) {
		return nil, ErrForbidden
	}
	return room, nil
}

// ListFor returns caller's rooms, most recent activity first.
func (s *RoomService) ListFor(ctx context.Context, caller domain.Participant) ([]repo.RoomSummary, error) {
	ctx, span := otel.Tracer("services/RoomService").Start(ctx, "ListFor",
		trace.WithAttributes(attribute.String("participant", caller.String())),
	)
	defer span.End()

	rooms, err := s.Repo.ListRoomsFor(ctx, s.DB, caller)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rooms, nil
}
