package services

import (
	"context"
	"sync"
	"time"
)

// roomLocks hands out one-slot semaphores keyed by room (or pair) so work
// on different keys proceeds independently. Slots are reference counted and
// removed once nobody holds or waits on them.
type roomLocks struct {
	mu    sync.Mutex
	slots map[string]*roomSlot
}

type roomSlot struct {
	ch   chan struct{}
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{slots: make(map[string]*roomSlot)}
}

// acquire waits at most timeout for key. It returns ErrRoomBusy on timeout
// and ctx.Err() when ctx ends first.
func (l *roomLocks) acquire(ctx context.Context, key string, timeout time.Duration) (release func(), err error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &roomSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-timer.C:
		l.unref(key, s)
		return nil, ErrRoomBusy
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
}

func (l *roomLocks) unref(key string, s *roomSlot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// size reports the number of live slots.
func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
