package realtime

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

// Hub tracks the sessions open on this node and which rooms they joined.
// It is the Broker handler: Deliver pushes a committed message to every
// local subscriber of its room.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Session]struct{}
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]struct{}),
	}
}

// add registers s. It reports false once Shutdown has started.
func (h *Hub) add(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return true
}

// remove drops s and all of its subscriptions.
func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	for roomID, members := range h.rooms {
		if _, ok := members[s]; ok {
			delete(members, s)
			wsSubscriptions.Dec()
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Hub) subscribe(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[*Session]struct{})
		h.rooms[roomID] = members
	}
	if _, ok := members[s]; !ok {
		members[s] = struct{}{}
		wsSubscriptions.Inc()
	}
}

func (h *Hub) unsubscribe(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[roomID]
	if _, ok := members[s]; !ok {
		return
	}
	delete(members, s)
	wsSubscriptions.Dec()
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// Deliver pushes msg to the room's local subscribers without blocking.
func (h *Hub) Deliver(msg domain.Message) {
	h.mu.RLock()
	members := h.rooms[msg.RoomID]
	targets := make([]*Session, 0, len(members))
	for s := range members {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.deliver(msg)
	}
}

// Len reports the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Subscribers reports the number of local sessions joined to roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Shutdown refuses new sessions, sends every open session a disconnect
// frame with reason and waits until they are gone or ctx ends.
func (h *Hub) Shutdown(ctx context.Context, reason string) error {
	h.mu.Lock()
	h.closed = true
	all := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		all = append(all, s)
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close(websocket.CloseGoingAway, reason, disconnectFrame{Type: FrameDisconnect, Reason: reason})
	}
	log.Info().Int("sessions", len(all)).Str("reason", reason).Msg("ws: hub shutting down")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
