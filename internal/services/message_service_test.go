package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

func TestAppend_AssignsGaplessSeqAndDispatches(t *testing.T) {
	rooms, msgs, rec := newServices(t, LedgerOptions{})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)

	for i := 1; i <= 3; i++ {
		m, err := msgs.Append(ctx, room.ID, patient42, "  hi  ")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if m.Seq != int64(i) || m.Body != "hi" || m.Sender() != patient42 {
			t.Fatalf("unexpected message: %+v", m)
		}
	}
	got := rec.all()
	if len(got) != 3 || got[2].Seq != 3 {
		t.Fatalf("dispatcher should see every commit, got %+v", got)
	}
}

func TestAppend_Validation(t *testing.T) {
	rooms, msgs, rec := newServices(t, LedgerOptions{MaxBodyRunes: 5})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)

	if _, err := msgs.Append(ctx, room.ID, patient42, " \n\t "); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, err := msgs.Append(ctx, room.ID, patient42, "toolong"); !errors.Is(err, ErrBodyTooLong) {
		t.Fatalf("expected ErrBodyTooLong, got %v", err)
	}
	// "e" + combining acute is 2 runes before NFC and 1 after.
	m, err := msgs.Append(ctx, room.ID, patient42, "cafés")
	if err != nil {
		t.Fatalf("NFC body within limit should pass: %v", err)
	}
	if m.Body != "caf\u00e9s" {
		t.Fatalf("body not normalized: %q", m.Body)
	}
	if _, err := msgs.Append(ctx, room.ID, patient43, "hey"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider send must be forbidden, got %v", err)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("rejected sends must not be dispatched")
	}
}

func TestAppend_ConcurrentSendersTotalOrder(t *testing.T) {
	rooms, msgs, rec := newServices(t, LedgerOptions{LockTimeout: 5 * time.Second})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)

	const perSender = 10
	var wg sync.WaitGroup
	for _, sender := range []domain.Participant{patient42, doctor7} {
		for i := 0; i < perSender; i++ {
			wg.Add(1)
			go func(p domain.Participant) {
				defer wg.Done()
				if _, err := msgs.Append(ctx, room.ID, p, "ping"); err != nil {
					t.Errorf("append: %v", err)
				}
			}(sender)
		}
	}
	wg.Wait()

	list, last, err := msgs.List(ctx, room.ID, patient42, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2*perSender || last != 2*perSender {
		t.Fatalf("expected %d messages, got %d (last_seq %d)", 2*perSender, len(list), last)
	}
	for i, m := range list {
		if m.Seq != int64(i+1) {
			t.Fatalf("gap or duplicate at %d: seq %d", i, m.Seq)
		}
	}

	// both participants observe the same order
	other, _, _ := msgs.List(ctx, room.ID, doctor7, 0, 0)
	for i := range list {
		if list[i].ID != other[i].ID {
			t.Fatalf("participants disagree on order at %d", i)
		}
	}

	dispatched := rec.all()
	for i, m := range dispatched {
		if m.Seq != int64(i+1) {
			t.Fatalf("dispatch order broke at %d: seq %d", i, m.Seq)
		}
	}
}

func TestList_SinceReplay(t *testing.T) {
	rooms, msgs, _ := newServices(t, LedgerOptions{})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)
	for i := 0; i < 7; i++ {
		if _, err := msgs.Append(ctx, room.ID, doctor7, "m"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, last, err := msgs.List(ctx, room.ID, patient42, 5, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 6 || got[1].Seq != 7 || last != 7 {
		t.Fatalf("since=5 should return [6,7], got %+v last=%d", got, last)
	}
	if _, _, err := msgs.List(ctx, room.ID, patient42, -1, 0); !errors.Is(err, ErrInvalidSeq) {
		t.Fatalf("negative since must be rejected, got %v", err)
	}
	if _, _, err := msgs.List(ctx, room.ID, patient43, 0, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider list must be forbidden, got %v", err)
	}
}

func TestList_PageLimit(t *testing.T) {
	rooms, msgs, _ := newServices(t, LedgerOptions{PageLimit: 2})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)
	for i := 0; i < 4; i++ {
		_, _ = msgs.Append(ctx, room.ID, patient42, "m")
	}
	got, _, err := msgs.List(ctx, room.ID, patient42, 0, 50)
	if err != nil || len(got) != 2 {
		t.Fatalf("page limit should cap to 2, got %d (%v)", len(got), err)
	}
}

func TestUnreadAndMarkRead(t *testing.T) {
	rooms, msgs, _ := newServices(t, LedgerOptions{})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)

	for i := 0; i < 3; i++ {
		if _, err := msgs.Append(ctx, room.ID, patient42, "question"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if n, _ := msgs.UnreadCount(ctx, room.ID, doctor7); n != 3 {
		t.Fatalf("doctor unread = %d; want 3", n)
	}
	if n, _ := msgs.UnreadCount(ctx, room.ID, patient42); n != 0 {
		t.Fatalf("sender's own messages are never unread, got %d", n)
	}

	m, err := msgs.MarkRead(ctx, room.ID, doctor7, 2)
	if err != nil || m.LastReadSeq != 2 || m.UnreadCount != 1 {
		t.Fatalf("mark through 2: %+v %v", m, err)
	}
	m, err = msgs.MarkRead(ctx, room.ID, doctor7, 1)
	if err != nil || m.LastReadSeq != 2 {
		t.Fatalf("marker must not move backwards: %+v %v", m, err)
	}
	m, err = msgs.MarkRead(ctx, room.ID, doctor7, 99)
	if err != nil || m.LastReadSeq != 3 || m.UnreadCount != 0 {
		t.Fatalf("through beyond last_seq should clamp to 3: %+v %v", m, err)
	}

	if _, err := msgs.Append(ctx, room.ID, patient42, "one more"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if n, _ := msgs.UnreadCount(ctx, room.ID, doctor7); n != 1 {
		t.Fatalf("new message should count as unread, got %d", n)
	}

	if _, err := msgs.MarkRead(ctx, room.ID, doctor7, -1); !errors.Is(err, ErrInvalidSeq) {
		t.Fatalf("negative through must be rejected, got %v", err)
	}
	if _, err := msgs.MarkRead(ctx, room.ID, patient43, 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider must be forbidden, got %v", err)
	}
}

func TestAppend_LockTimeoutIsTransient(t *testing.T) {
	rooms, msgs, _ := newServices(t, LedgerOptions{LockTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)

	release, err := msgs.locks.acquire(ctx, room.ID, time.Second)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	_, err = msgs.Append(ctx, room.ID, patient42, "blocked")
	release()

	if !errors.Is(err, ErrRoomBusy) || Classify(err) != KindTransient {
		t.Fatalf("expected transient ErrRoomBusy, got %v", err)
	}
	if m, err := msgs.Append(ctx, room.ID, patient42, "retry"); err != nil || m.Seq != 1 {
		t.Fatalf("retry after release should get seq 1: %+v %v", m, err)
	}
}

func TestAppendWithKey_Replay(t *testing.T) {
	rooms, msgs, rec := newServices(t, LedgerOptions{})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)

	first, replayed, err := msgs.AppendWithKey(ctx, room.ID, patient42, "hello", "k-1")
	if err != nil || replayed {
		t.Fatalf("first send: %v replayed=%v", err, replayed)
	}
	again, replayed, err := msgs.AppendWithKey(ctx, room.ID, patient42, "hello", "k-1")
	if err != nil || !replayed || again.ID != first.ID {
		t.Fatalf("retry should replay %s, got %+v replayed=%v err=%v", first.ID, again, replayed, err)
	}
	other, replayed, err := msgs.AppendWithKey(ctx, room.ID, doctor7, "hello", "k-1")
	if err != nil || replayed || other.Seq != 2 {
		t.Fatalf("same key from the doctor is a new message: %+v replayed=%v err=%v", other, replayed, err)
	}
	if len(rec.all()) != 2 {
		t.Fatalf("replays must not be dispatched, got %d dispatches", len(rec.all()))
	}
}

// A key committed by another node after our lookup surfaces as a unique
// violation on insert; the caller still gets the original message.
func TestAppendWithKey_LostRaceReplaysWinner(t *testing.T) {
	rooms, msgs, rec := newServices(t, LedgerOptions{})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)

	first, _, err := msgs.AppendWithKey(ctx, room.ID, patient42, "hello", "k-1")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}

	// The in-transaction lookup runs past the record's expiry and misses it,
	// as if the winner had not committed yet.
	calls := 0
	msgs.now = func() time.Time {
		calls++
		if calls == 1 {
			return time.Now().UTC().Add(48 * time.Hour)
		}
		return time.Now().UTC()
	}

	again, replayed, err := msgs.AppendWithKey(ctx, room.ID, patient42, "hello", "k-1")
	if err != nil {
		t.Fatalf("lost race must not fail: %v", err)
	}
	if !replayed || again.ID != first.ID {
		t.Fatalf("want replay of %s, got %+v replayed=%v", first.ID, again, replayed)
	}

	after, _ := rooms.Get(ctx, room.ID, patient42)
	if after.LastSeq != 1 {
		t.Fatalf("losing append must roll back, last_seq=%d", after.LastSeq)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("losing append must not be dispatched, got %d dispatches", len(rec.all()))
	}
}

func TestAppend_StoreFailureCommitsNothing(t *testing.T) {
	rooms, msgs, rec := newServices(t, LedgerOptions{})
	ctx := context.Background()
	room, _, _ := rooms.Open(ctx, patient42, 7)

	if err := msgs.DB.Migrator().DropTable(&domain.ReadMarker{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err := msgs.Append(ctx, room.ID, patient42, "lost")
	if !errors.Is(err, ErrStoreUnavailable) || Classify(err) != KindFatal {
		t.Fatalf("expected fatal ErrStoreUnavailable, got %v", err)
	}
	after, _ := rooms.Get(ctx, room.ID, patient42)
	if after.LastSeq != 0 {
		t.Fatalf("failed append must roll back seq allocation, last_seq=%d", after.LastSeq)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("failed append must not be dispatched")
	}
}

func TestNormalizeBody(t *testing.T) {
	if got := NormalizeBody("  á "); got != "á" {
		t.Fatalf("NormalizeBody = %q", got)
	}
}
