package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/go-consult-chat/internal/auth"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{auth.ErrExpiredCredential, KindUnauthenticated},
		{ErrForbidden, KindForbidden},
		{fmt.Errorf("%w: no appointment", ErrForbidden), KindForbidden},
		{ErrEmptyBody, KindInvalidInput},
		{ErrBodyTooLong, KindInvalidInput},
		{ErrInvalidRoomRef, KindInvalidInput},
		{ErrInvalidCounterpart, KindInvalidInput},
		{ErrInvalidSeq, KindInvalidInput},
		{ErrRoomBusy, KindTransient},
		{fmt.Errorf("%w: redis down", auth.ErrVerifierUnavailable), KindTransient},
		{context.DeadlineExceeded, KindTransient},
		{fmt.Errorf("%w: disk full", ErrStoreUnavailable), KindFatal},
		{errors.New("boom"), KindFatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %v; want %v", tc.err, got, tc.want)
		}
	}
	if KindInvalidInput.String() != "invalid_input" || KindFatal.String() != "internal" {
		t.Fatalf("unexpected kind names")
	}
}
