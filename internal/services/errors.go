// Package services defines the business logic for consultation rooms and the
// message ledger. This file centralizes service-level error values and the
// classification used by both transports (HTTP and the realtime gateway) to
// turn them into stable error codes.
package services

import (
	"context"
	"errors"

	"github.com/tbourn/go-consult-chat/internal/auth"
)

var (
	// ErrForbidden covers both unknown rooms and rooms the caller is not a
	// participant of, so room existence is never leaked.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidRoomRef is returned for room ids that are not well-formed.
	ErrInvalidRoomRef = errors.New("invalid room reference")

	// ErrInvalidCounterpart is returned when opening a room without a valid
	// counterpart id.
	ErrInvalidCounterpart = errors.New("invalid counterpart")

	// ErrEmptyBody is returned when a message body is empty after trimming.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrBodyTooLong is returned when a body exceeds the configured rune limit.
	ErrBodyTooLong = errors.New("message body too long")

	// ErrInvalidSeq is returned for negative since/through sequence values.
	ErrInvalidSeq = errors.New("invalid sequence number")

	// ErrRoomBusy is returned when the room's serialization point could not
	// be acquired within the configured timeout. Callers may retry.
	ErrRoomBusy = errors.New("room busy, retry later")

	// ErrStoreUnavailable wraps persistence failures. Nothing was committed.
	ErrStoreUnavailable = errors.New("message store unavailable")
)

// Kind is the transport-neutral error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindForbidden
	KindInvalidInput
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindInvalidInput:
		return "invalid_input"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "internal"
	}
	return "unknown"
}

// Classify maps err onto the taxonomy. Unrecognized errors are Fatal.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, auth.ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidRoomRef),
		errors.Is(err, ErrInvalidCounterpart),
		errors.Is(err, ErrEmptyBody),
		errors.Is(err, ErrBodyTooLong),
		errors.Is(err, ErrInvalidSeq):
		return KindInvalidInput
	case errors.Is(err, ErrRoomBusy),
		errors.Is(err, auth.ErrVerifierUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransient
	}
	return KindFatal
}
