// Package services – MessageService
//
// This file implements the message ledger. Appends to one room are
// serialized through a per-room slot with a bounded wait; inside it a single
// transaction allocates the next gapless sequence number, stores the message,
// refreshes the room preview and bumps the counterpart's unread counter.
// Committed messages are handed to the Dispatcher without waiting on
// delivery.
//
// Observability: public methods are OpenTelemetry-instrumented and appends
// feed the ledger_* Prometheus collectors.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-consult-chat/internal/domain"
	"github.com/tbourn/go-consult-chat/internal/repo"
)

// Dispatcher receives every committed message. Dispatch must not block.
type Dispatcher interface {
	Dispatch(msg domain.Message)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(domain.Message)

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(m domain.Message) { f(m) }

// LedgerOptions tunes MessageService.
type LedgerOptions struct {
	MaxBodyRunes   int           // 0 disables the check
	LockTimeout    time.Duration // bounded wait on the room slot
	PageLimit      int           // cap for List; 0 means unlimited
	IdempotencyTTL time.Duration // retention of Idempotency-Key results
}

// MessageService is the message ledger.
type MessageService struct {
	DB         *gorm.DB
	Rooms      *RoomService
	Dispatcher Dispatcher
	Opts       LedgerOptions

	locks *roomLocks
	now   func() time.Time
}

// NewMessageService wires the ledger. A nil dispatcher discards messages.
func NewMessageService(db *gorm.DB, rooms *RoomService, d Dispatcher, opts LedgerOptions) *MessageService {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if d == nil {
		d = DispatcherFunc(func(domain.Message) {})
	}
	return &MessageService{
		DB:         db,
		Rooms:      rooms,
		Dispatcher: d,
		Opts:       opts,
		locks:      newRoomLocks(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeBody trims surrounding whitespace and applies Unicode NFC so the
// stored text and its rune count do not depend on the client's encoding.
func NormalizeBody(body string) string {
	return norm.NFC.String(strings.TrimSpace(body))
}

// Append stores body as the next message of roomID from sender.
func (s *MessageService) Append(ctx context.Context, roomID string, sender domain.Participant, body string) (*domain.Message, error) {
	m, _, err := s.AppendWithKey(ctx, roomID, sender, body, "")
	return m, err
}

// AppendWithKey is Append with an optional idempotency key. When key was
// already used by sender in roomID, the original message is returned with
// replayed=true and nothing new is appended or dispatched.
func (s *MessageService) AppendWithKey(ctx context.Context, roomID string, sender domain.Participant, body, key string) (msg *domain.Message, replayed bool, err error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("sender", sender.String()),
		),
	)
	defer span.End()

	body = NormalizeBody(body)
	if body == "" {
		return nil, false, ErrEmptyBody
	}
	if s.Opts.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > s.Opts.MaxBodyRunes {
		return nil, false, ErrBodyTooLong
	}

	room, err := s.Rooms.Get(ctx, roomID, sender)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	release, err := s.locks.acquire(ctx, room.ID, s.Opts.LockTimeout)
	if err != nil {
		if errors.Is(err, ErrRoomBusy) {
			lockTimeouts.WithLabelValues("room").Inc()
		}
		span.RecordError(err)
		return nil, false, err
	}
	defer release()

	key = strings.TrimSpace(key)
	var out *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != "" {
			prev, err := s.keyed(ctx, tx, sender, room.ID, key)
			if err == nil {
				out, replayed = prev, true
				return nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}

		seq, err := repo.AllocateSeq(ctx, tx, room.ID)
		if err != nil {
			return err
		}
		now := s.now()
		m := &domain.Message{
			ID:         uuid.NewString(),
			RoomID:     room.ID,
			Seq:        seq,
			SenderRole: sender.Role,
			SenderID:   sender.ID,
			Body:       body,
			CreatedAt:  now,
		}
		if err := repo.InsertMessage(ctx, tx, m); err != nil {
			return err
		}
		if err := repo.TouchRoom(ctx, tx, room.ID, domain.Snippet(body), now); err != nil {
			return err
		}
		if err := repo.IncrementUnread(ctx, tx, room.ID, room.Counterpart(sender), now); err != nil {
			return err
		}
		if key != "" {
			if _, err := repo.CreateIdempotency(ctx, tx, sender.String(), room.ID, key, m.ID, http.StatusCreated, s.Opts.IdempotencyTTL); err != nil {
				return err
			}
		}
		out = m
		return nil
	})
	if err != nil && key != "" && errors.Is(err, repo.ErrDuplicate) {
		// Another node committed the same key between our lookup and insert.
		// Our transaction rolled back; answer with the winner's message.
		if prev, rerr := s.keyed(ctx, s.DB, sender, room.ID, key); rerr == nil {
			out, replayed, err = prev, true, nil
		}
	}
	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if replayed {
		span.SetAttributes(attribute.Bool("idempotent.replay", true))
		return out, true, nil
	}

	// Still inside the room slot: dispatch order follows seq order.
	s.Dispatcher.Dispatch(*out)
	ledgerAppends.Inc()
	ledgerAppendLat.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int64("message.seq", out.Seq))
	return out, false, nil
}

// keyed returns the message stored under sender's live key in roomID, or
// repo.ErrNotFound.
func (s *MessageService) keyed(ctx context.Context, db *gorm.DB, sender domain.Participant, roomID, key string) (*domain.Message, error) {
	rec, err := repo.GetIdempotency(ctx, db, sender.String(), roomID, key, s.now())
	if err != nil {
		return nil, err
	}
	return repo.GetMessage(ctx, db, rec.MessageID)
}

// List returns roomID's messages with seq > since in ascending order,
// capped at limit (and the configured page limit), plus the room's current
// last_seq.
func (s *MessageService) List(ctx context.Context, roomID string, caller domain.Participant, since int64, limit int) ([]domain.Message, int64, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.Int64("since", since),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if since < 0 {
		return nil, 0, ErrInvalidSeq
	}
	room, err := s.Rooms.Get(ctx, roomID, caller)
	if err != nil {
		return nil, 0, err
	}
	if s.Opts.PageLimit > 0 && (limit <= 0 || limit > s.Opts.PageLimit) {
		limit = s.Opts.PageLimit
	}
	items, err := repo.ListMessagesSince(ctx, s.DB, room.ID, since, limit)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return items, room.LastSeq, nil
}

// MarkRead advances caller's read marker in roomID to through (clamped to
// the room's last_seq). The marker never moves backwards, so replays and
// out-of-order calls are harmless.
func (s *MessageService) MarkRead(ctx context.Context, roomID string, caller domain.Participant, through int64) (*domain.ReadMarker, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.Int64("through", through),
		),
	)
	defer span.End()

	if through < 0 {
		return nil, ErrInvalidSeq
	}
	room, err := s.Rooms.Get(ctx, roomID, caller)
	if err != nil {
		return nil, err
	}

	var marker *domain.ReadMarker
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		last, err := repo.LockRoom(ctx, tx, room.ID)
		if err != nil {
			return err
		}
		if through > last {
			through = last
		}
		marker, err = repo.AdvanceMarker(ctx, tx, room.ID, caller, through, s.now())
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return marker, nil
}

// UnreadCount returns caller's unread counter for roomID.
func (s *MessageService) UnreadCount(ctx context.Context, roomID string, caller domain.Participant) (int64, error) {
	room, err := s.Rooms.Get(ctx, roomID, caller)
	if err != nil {
		return 0, err
	}
	n, err := repo.UnreadCount(ctx, s.DB, room.ID, caller)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
