package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-consult-chat/internal/auth"
	"github.com/tbourn/go-consult-chat/internal/config"
	"github.com/tbourn/go-consult-chat/internal/domain"
	"github.com/tbourn/go-consult-chat/internal/services"
)

// opTimeout bounds every store or verifier call made for one frame.
const opTimeout = 10 * time.Second

// RoomAuthorizer resolves a room for a participant (services.RoomService).
type RoomAuthorizer interface {
	Get(ctx context.Context, roomID string, caller domain.Participant) (*domain.Room, error)
}

// Ledger is the subset of services.MessageService the gateway drives.
type Ledger interface {
	AppendWithKey(ctx context.Context, roomID string, sender domain.Participant, body, key string) (*domain.Message, bool, error)
	List(ctx context.Context, roomID string, caller domain.Participant, since int64, limit int) ([]domain.Message, int64, error)
	MarkRead(ctx context.Context, roomID string, caller domain.Participant, through int64) (*domain.ReadMarker, error)
}

// Gateway upgrades HTTP requests to WebSocket sessions and runs the frame
// protocol for each of them.
type Gateway struct {
	Verifier auth.Verifier
	Rooms    RoomAuthorizer
	Ledger   Ledger
	Hub      *Hub
	Cfg      config.RealtimeConfig

	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewGateway wires a gateway. Zero durations in cfg fall back to sane defaults.
func NewGateway(v auth.Verifier, rooms RoomAuthorizer, ledger Ledger, hub *Hub, cfg config.RealtimeConfig) *Gateway {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 16 << 10
	}
	return &Gateway{
		Verifier: v,
		Rooms:    rooms,
		Ledger:   ledger,
		Hub:      hub,
		Cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{auth.BearerProtocol},
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		now: time.Now,
	}
}

// Handle adapts the gateway to a gin route.
func (g *Gateway) Handle(c *gin.Context) { g.ServeHTTP(c.Writer, c.Request) }

// ServeHTTP runs one session to completion.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		log.Debug().Err(err).Msg("ws: upgrade failed")
		return
	}

	s := newSession(conn, g.Cfg)
	go s.writePump()

	if !g.Hub.add(s) {
		close(s.readDone)
		s.Close(websocket.CloseGoingAway, ReasonServerShutdown,
			disconnectFrame{Type: FrameDisconnect, Reason: ReasonServerShutdown})
		<-s.done
		return
	}
	wsSessions.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		close(s.readDone)
		s.Close(websocket.CloseNormalClosure, "", nil)
		<-s.done
		g.Hub.remove(s)
		wsSessions.Dec()
		s.log.Debug().Msg("ws: session ended")
	}()

	conn.SetReadLimit(g.Cfg.MaxFrameBytes)
	_ = conn.SetReadDeadline(g.now().Add(g.Cfg.AuthTimeout))
	conn.SetPongHandler(func(string) error {
		if st := s.State(); st == StateConnecting || st == StateClosed {
			return nil
		}
		return conn.SetReadDeadline(g.now().Add(g.Cfg.PongWait))
	})

	if tok := auth.FromRequest(r); tok != "" {
		g.authenticate(ctx, s, tok)
	}
	g.readLoop(ctx, s)
}

// readLoop handles frames until the connection fails. Once the session is
// closing, input is drained and discarded until the peer's close arrives.
func (g *Gateway) readLoop(ctx context.Context, s *Session) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case s.State() == StateConnecting && errors.As(err, &ne) && ne.Timeout():
				g.rejectAuth(s, "timeout", "authentication timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				s.log.Debug().Err(err).Msg("ws: read")
			}
			return
		}
		if s.closing() {
			continue
		}
		g.handleFrame(ctx, s, data)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, s *Session, data []byte) {
	var f inbound
	if err := json.Unmarshal(data, &f); err != nil {
		s.push(newError(services.KindInvalidInput.String(), "malformed frame"))
		return
	}
	wsFrames.WithLabelValues(frameLabel(f.Type)).Inc()
	f.RoomID = strings.TrimSpace(f.RoomID)

	if s.State() == StateConnecting {
		if f.Type != FrameAuth {
			g.rejectAuth(s, "missing", "authenticate first")
			return
		}
		g.authenticate(ctx, s, f.Token)
		return
	}

	p := s.Principal()
	if p == nil {
		return
	}
	if p.Expired(g.now()) {
		g.rejectAuth(s, "expired", auth.ErrExpiredCredential.Error())
		return
	}
	if !s.limiter.Allow() {
		s.push(newError(services.KindTransient.String(), "too many frames"))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch f.Type {
	case FrameAuth:
		s.push(newError(services.KindInvalidInput.String(), "already authenticated"))
	case FrameJoin:
		g.join(opCtx, s, p.Participant, f)
	case FrameLeave:
		if s.unsubscribe(f.RoomID) {
			g.Hub.unsubscribe(f.RoomID, s)
		}
		s.push(leftFrame{Type: FrameLeft, RoomID: f.RoomID})
	case FrameSend:
		if !g.reverify(opCtx, s) {
			return
		}
		msg, replayed, err := g.Ledger.AppendWithKey(opCtx, f.RoomID, p.Participant, f.Body, f.ClientRef)
		if err != nil {
			g.fail(s, err, f.RoomID, f.ClientRef)
			return
		}
		if replayed {
			s.log.Debug().Str("client_ref", f.ClientRef).Msg("ws: duplicate send acknowledged")
		}
		s.push(messageFrame{Type: FrameMessageAck, ClientRef: f.ClientRef, Message: *msg})
	case FrameRead:
		if f.ThroughSeq == nil {
			s.push(errorFrame{Type: FrameError, Code: services.KindInvalidInput.String(), Message: "through_seq is required", RoomID: f.RoomID})
			return
		}
		m, err := g.Ledger.MarkRead(opCtx, f.RoomID, p.Participant, *f.ThroughSeq)
		if err != nil {
			g.fail(s, err, f.RoomID, "")
			return
		}
		s.push(readAckFrame{Type: FrameReadAck, RoomID: m.RoomID, LastReadSeq: m.LastReadSeq, UnreadCount: m.UnreadCount})
	default:
		s.push(newError(services.KindInvalidInput.String(), "unknown frame type"))
	}
}

// authenticate verifies credential and moves s to Authenticated. On failure
// the session is closed and false is returned.
func (g *Gateway) authenticate(ctx context.Context, s *Session, credential string) bool {
	vctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := g.Verifier.Verify(vctx, credential)
	if err != nil {
		if services.Classify(err) == services.KindTransient {
			s.log.Warn().Err(err).Msg("ws: verifier unavailable")
			s.Close(websocket.CloseTryAgainLater, "verifier unavailable",
				newError(services.KindTransient.String(), "identity verifier unavailable"))
			return false
		}
		g.rejectAuth(s, authReason(err), err.Error())
		return false
	}
	if p.Expired(g.now()) {
		g.rejectAuth(s, "expired", auth.ErrExpiredCredential.Error())
		return false
	}
	if !s.authenticated(p, credential) {
		return false
	}
	_ = s.conn.SetReadDeadline(g.now().Add(g.Cfg.PongWait))

	if !p.ExpiresAt.IsZero() {
		t := time.AfterFunc(p.ExpiresAt.Sub(g.now()), func() {
			g.rejectAuth(s, "expired", auth.ErrExpiredCredential.Error())
		})
		go func() {
			<-s.quit
			t.Stop()
		}()
	}
	if g.Cfg.ReverifyInterval > 0 {
		go g.reverifyLoop(s)
	}

	s.log.Info().Str("identity", p.String()).Msg("ws: session authenticated")
	s.push(readyFrame{Type: FrameReady, SessionID: s.ID, Identity: p.String(), ExpiresAt: p.ExpiresAt})
	return true
}

func (g *Gateway) reverifyLoop(s *Session) {
	t := time.NewTicker(g.Cfg.ReverifyInterval)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			g.reverify(ctx, s)
			cancel()
		}
	}
}

// reverify re-checks the session credential. A rejection closes the
// session; an unavailable verifier is reported but keeps it open.
func (g *Gateway) reverify(ctx context.Context, s *Session) bool {
	_, err := g.Verifier.Verify(ctx, s.currentCredential())
	if err == nil {
		return true
	}
	if services.Classify(err) == services.KindUnauthenticated {
		g.rejectAuth(s, authReason(err), err.Error())
		return false
	}
	s.log.Warn().Err(err).Msg("ws: re-verification failed")
	s.push(newError(services.KindTransient.String(), "identity verifier unavailable"))
	return false
}

func (g *Gateway) join(ctx context.Context, s *Session, caller domain.Participant, f inbound) {
	roomID := f.RoomID
	if f.LastSeq != nil && *f.LastSeq < 0 {
		g.fail(s, services.ErrInvalidSeq, roomID, "")
		return
	}
	room, err := g.Rooms.Get(ctx, roomID, caller)
	if err != nil {
		g.fail(s, err, roomID, "")
		return
	}
	// A cursor ahead of the ledger resumes from the room's head.
	since := room.LastSeq
	if f.LastSeq != nil && *f.LastSeq < room.LastSeq {
		since = *f.LastSeq
	}

	if !s.subscribe(room.ID, since) {
		return
	}
	g.Hub.subscribe(room.ID, s)
	if !s.push(joinedFrame{Type: FrameJoined, RoomID: room.ID, LastSeq: room.LastSeq}) {
		return
	}

	cursor := since
	for {
		page, last, err := g.Ledger.List(ctx, room.ID, caller, cursor, 0)
		if err != nil {
			s.finishReplay(room.ID)
			g.fail(s, err, room.ID, "")
			return
		}
		if !s.replay(room.ID, page) {
			return
		}
		if len(page) == 0 || page[len(page)-1].Seq >= last {
			break
		}
		cursor = page[len(page)-1].Seq
	}
	s.finishReplay(room.ID)
}

// fail reports err to the client as an error frame. Authentication
// failures close the session.
func (g *Gateway) fail(s *Session, err error, roomID, clientRef string) {
	kind := services.Classify(err)
	msg := err.Error()
	switch kind {
	case services.KindUnauthenticated:
		g.rejectAuth(s, authReason(err), msg)
		return
	case services.KindFatal:
		s.log.Error().Err(err).Str("room_id", roomID).Msg("ws: request failed")
		msg = "internal error"
	}
	s.push(errorFrame{Type: FrameError, Code: kind.String(), Message: msg, RoomID: roomID, ClientRef: clientRef})
}

func (g *Gateway) rejectAuth(s *Session, reason, msg string) {
	if s.closing() {
		return
	}
	wsAuthFailures.WithLabelValues(reason).Inc()
	s.log.Info().Str("reason", reason).Msg("ws: closing unauthenticated session")
	s.Close(CloseUnauthenticated, msg, newError(services.KindUnauthenticated.String(), msg))
}

func authReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "missing"
	case errors.Is(err, auth.ErrExpiredCredential):
		return "expired"
	case errors.Is(err, auth.ErrRevokedCredential):
		return "revoked"
	}
	return "invalid"
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))] = struct{}{}
	}
	_, wildcard := set["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
