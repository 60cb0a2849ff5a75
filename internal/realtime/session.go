package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-consult-chat/internal/auth"
	"github.com/tbourn/go-consult-chat/internal/config"
	"github.com/tbourn/go-consult-chat/internal/domain"
)

// State is a session's lifecycle position. Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// subscription is one joined room. While the join replay runs, live
// messages are parked in pending and flushed once history has been sent.
// More than SendBuffer parked messages close the session as a slow consumer.
type subscription struct {
	lastSeq   int64
	replaying bool
	pending   []domain.Message
}

// Session is one WebSocket connection. The read side runs on the gateway's
// handler goroutine; writePump is the only writer to conn.
type Session struct {
	ID string

	conn    *websocket.Conn
	cfg     config.RealtimeConfig
	log     zerolog.Logger
	limiter *rate.Limiter

	send      chan []byte
	quit      chan struct{} // close requested
	done      chan struct{} // writer exited, conn closed
	readDone  chan struct{} // reader exited
	closeOnce sync.Once
	closeCode int
	closeText string
	final     any

	mu         sync.Mutex
	state      State
	principal  *auth.Principal
	credential string
	subs       map[string]*subscription
}

func newSession(conn *websocket.Conn, cfg config.RealtimeConfig) *Session {
	id := uuid.NewString()
	burst := cfg.FrameBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.FrameRPS > 0 {
		limit = rate.Limit(cfg.FrameRPS)
	}
	size := cfg.SendBuffer
	if size < 1 {
		size = 1
	}
	return &Session{
		ID:       id,
		conn:     conn,
		cfg:      cfg,
		log:      log.With().Str("session_id", id).Logger(),
		limiter:  rate.NewLimiter(limit, burst),
		send:     make(chan []byte, size),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		subs:     make(map[string]*subscription),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Principal returns the authenticated identity or nil.
func (s *Session) Principal() *auth.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

func (s *Session) authenticated(p *auth.Principal, credential string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.principal = p
	s.credential = credential
	s.state = StateAuthenticated
	return true
}

func (s *Session) currentCredential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// Close asks the writer to flush, send final (if any) and close with code.
// Only the first call has an effect.
func (s *Session) Close(code int, reason string, final any) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.closeCode = code
		s.closeText = reason
		s.final = final
		close(s.quit)
	})
}

func (s *Session) closing() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// push queues a frame without blocking. A full buffer closes the session.
func (s *Session) push(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("ws: encode frame")
		return false
	}
	return s.pushRaw(data)
}

func (s *Session) pushRaw(data []byte) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		s.slow()
		return false
	}
}

// pushWait queues a frame, waiting up to WriteWait for buffer space.
func (s *Session) pushWait(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("ws: encode frame")
		return false
	}
	t := time.NewTimer(s.cfg.WriteWait)
	defer t.Stop()
	select {
	case s.send <- data:
		return true
	case <-s.quit:
		return false
	case <-t.C:
		s.slow()
		return false
	}
}

func (s *Session) slow() {
	dispatchDropped.WithLabelValues("slow_consumer").Inc()
	s.log.Warn().Msg("ws: send buffer full, closing session")
	s.Close(websocket.CloseTryAgainLater, ReasonSlowConsumer,
		disconnectFrame{Type: FrameDisconnect, Reason: ReasonSlowConsumer})
}

// subscribe (re)starts a subscription to roomID from since and enters
// replay mode. It returns false when the session is already closed.
func (s *Session) subscribe(roomID string, since int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.subs[roomID] = &subscription{lastSeq: since, replaying: true}
	s.state = StateSubscribed
	return true
}

// unsubscribe drops roomID. It reports whether the room was joined.
func (s *Session) unsubscribe(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[roomID]; !ok {
		return false
	}
	delete(s.subs, roomID)
	if len(s.subs) == 0 && s.state == StateSubscribed {
		s.state = StateAuthenticated
	}
	return true
}

// replay sends history for roomID, blocking on buffer space.
func (s *Session) replay(roomID string, msgs []domain.Message) bool {
	for _, m := range msgs {
		s.mu.Lock()
		sub := s.subs[roomID]
		if sub == nil {
			s.mu.Unlock()
			return false
		}
		if m.Seq <= sub.lastSeq {
			s.mu.Unlock()
			continue
		}
		sub.lastSeq = m.Seq
		s.mu.Unlock()

		if !s.pushWait(messageFrame{Type: FrameMessageNew, Message: m}) {
			return false
		}
		deliveries.Inc()
	}
	return true
}

// finishReplay flushes messages that arrived live during replay and
// switches roomID to direct delivery.
func (s *Session) finishReplay(roomID string) {
	s.mu.Lock()
	sub := s.subs[roomID]
	if sub == nil {
		s.mu.Unlock()
		return
	}
	pending := sub.pending
	sub.pending = nil
	sub.replaying = false
	frames := s.collectLocked(sub, pending)
	s.mu.Unlock()
	s.flush(frames)
}

// deliver is called by the hub for every live message of a joined room.
func (s *Session) deliver(m domain.Message) {
	s.mu.Lock()
	sub := s.subs[m.RoomID]
	if sub == nil || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if sub.replaying {
		// Parked messages are bounded like the send buffer.
		if len(sub.pending) >= cap(s.send) {
			s.mu.Unlock()
			s.slow()
			return
		}
		sub.pending = append(sub.pending, m)
		s.mu.Unlock()
		return
	}
	frames := s.collectLocked(sub, []domain.Message{m})
	s.mu.Unlock()
	s.flush(frames)
}

// collectLocked encodes messages newer than sub.lastSeq and advances it.
// The send itself happens after the lock is released.
func (s *Session) collectLocked(sub *subscription, msgs []domain.Message) [][]byte {
	var out [][]byte
	for _, m := range msgs {
		if m.Seq <= sub.lastSeq {
			continue
		}
		data, err := json.Marshal(messageFrame{Type: FrameMessageNew, Message: m})
		if err != nil {
			s.log.Error().Err(err).Msg("ws: encode frame")
			continue
		}
		sub.lastSeq = m.Seq
		out = append(out, data)
	}
	return out
}

func (s *Session) flush(frames [][]byte) {
	for _, f := range frames {
		if !s.pushRaw(f) {
			return
		}
		deliveries.Inc()
	}
}

// writePump owns all writes to conn: queued frames, pings and the final
// close handshake.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.done)
	}()

	for {
		select {
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "", nil)
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "", nil)
				return
			}
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

func (s *Session) shutdown() {
drain:
	for {
		select {
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			break drain
		}
	}
	if s.closeCode == websocket.CloseAbnormalClosure {
		return
	}
	if s.final != nil {
		if data, err := json.Marshal(s.final); err == nil {
			if err := s.write(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(s.closeCode, s.closeText),
		time.Now().Add(s.cfg.WriteWait))

	// Give the peer a chance to answer the close before the socket goes
	// away; closing with unread input would reset the connection.
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.WriteWait))
	t := time.NewTimer(s.cfg.WriteWait)
	defer t.Stop()
	select {
	case <-s.readDone:
	case <-t.C:
	}
}

func (s *Session) write(kind int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(kind, data)
}
