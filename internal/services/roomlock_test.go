package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRoomLocks_ExclusiveAndCleanup(t *testing.T) {
	l := newRoomLocks()
	ctx := context.Background()

	release, err := l.acquire(ctx, "r1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.acquire(ctx, "r1", 20*time.Millisecond); !errors.Is(err, ErrRoomBusy) {
		t.Fatalf("second holder should time out, got %v", err)
	}

	other, err := l.acquire(ctx, "r2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("independent key must not wait: %v", err)
	}
	other()

	release()
	release() // idempotent
	if l.size() != 0 {
		t.Fatalf("slots should be removed once free, %d left", l.size())
	}
}

func TestRoomLocks_WaiterProceedsAfterRelease(t *testing.T) {
	l := newRoomLocks()
	ctx := context.Background()
	release, _ := l.acquire(ctx, "r1", time.Second)

	done := make(chan error, 1)
	go func() {
		r, err := l.acquire(ctx, "r1", time.Second)
		if err == nil {
			r()
		}
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter never acquired the slot")
	}
}

func TestRoomLocks_ContextCancel(t *testing.T) {
	l := newRoomLocks()
	release, _ := l.acquire(context.Background(), "r1", time.Second)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.acquire(ctx, "r1", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
