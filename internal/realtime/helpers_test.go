package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-consult-chat/internal/auth"
	"github.com/tbourn/go-consult-chat/internal/config"
	"github.com/tbourn/go-consult-chat/internal/domain"
	"github.com/tbourn/go-consult-chat/internal/repo"
	"github.com/tbourn/go-consult-chat/internal/services"
)

var testSecret = []byte("realtime-test-secret")

var (
	patient42 = domain.Participant{Role: domain.RolePatient, ID: 42}
	patient43 = domain.Participant{Role: domain.RolePatient, ID: 43}
	doctor7   = domain.Participant{Role: domain.RoleDoctor, ID: 7}
)

type fixture struct {
	srv   *httptest.Server
	hub   *Hub
	rooms *services.RoomService
	msgs  *services.MessageService
}

type fixtureOpts struct {
	cfg         func(*config.RealtimeConfig)
	revocations auth.RevocationChecker
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		AuthTimeout:   300 * time.Millisecond,
		PingPeriod:    time.Second,
		PongWait:      2 * time.Second,
		WriteWait:     time.Second,
		SendBuffer:    32,
		MaxFrameBytes: 4096,
		FrameRPS:      100,
		FrameBurst:    100,
	}
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "realtime_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	hub := NewHub()
	broker := NewLocalBroker()
	_ = broker.Subscribe(context.Background(), hub.Deliver)
	disp := NewDispatcher(broker, 64)
	disp.Start()

	rooms := services.NewRoomService(db, repo.Rooms{}, time.Second)
	// A small page limit makes joins replay across several pages.
	msgs := services.NewMessageService(db, rooms, disp, services.LedgerOptions{MaxBodyRunes: 1000, PageLimit: 3})

	cfg := testRealtimeConfig()
	if o.cfg != nil {
		o.cfg(&cfg)
	}
	v := auth.NewJWTVerifier(auth.JWTOptions{Secret: testSecret, Revocations: o.revocations})
	srv := httptest.NewServer(NewGateway(v, rooms, msgs, hub, cfg))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx, ReasonServerShutdown)
		srv.Close()
		_ = disp.Stop(ctx)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &fixture{srv: srv, hub: hub, rooms: rooms, msgs: msgs}
}

func issue(t *testing.T, p domain.Participant, ttl time.Duration) string {
	t.Helper()
	tok, _, err := auth.IssueToken(testSecret, p, ttl, "", uuid.NewString())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (f *fixture) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// dial connects with an optional bearer token in the Authorization header.
func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(f.url(), h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials as p and consumes the ready frame.
func (f *fixture) connect(t *testing.T, p domain.Participant) *websocket.Conn {
	t.Helper()
	conn := f.dial(t, issue(t, p, time.Hour))
	ready := expect(t, conn, FrameReady)
	if ready.Identity != p.String() {
		t.Fatalf("ready identity = %q; want %q", ready.Identity, p.String())
	}
	return conn
}

type wireFrame struct {
	Type        string          `json:"type"`
	Code        string          `json:"code"`
	Message     json.RawMessage `json:"message"`
	RoomID      string          `json:"room_id"`
	LastSeq     int64           `json:"last_seq"`
	ClientRef   string          `json:"client_ref"`
	SessionID   string          `json:"session_id"`
	Identity    string          `json:"identity"`
	Reason      string          `json:"reason"`
	LastReadSeq int64           `json:"last_read_seq"`
	UnreadCount int64           `json:"unread_count"`
}

func (w wireFrame) msg(t *testing.T) domain.Message {
	t.Helper()
	var m domain.Message
	if err := json.Unmarshal(w.Message, &m); err != nil {
		t.Fatalf("decode message of %s frame: %v", w.Type, err)
	}
	return m
}

func read(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f
}

func expect(t *testing.T, conn *websocket.Conn, typ string) wireFrame {
	t.Helper()
	f := read(t, conn)
	if f.Type != typ {
		t.Fatalf("frame type = %q (%+v); want %q", f.Type, f, typ)
	}
	return f
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// expectClose reads until the connection closes and checks the close code.
// Frames received on the way are returned.
func expectClose(t *testing.T, conn *websocket.Conn, code int, within time.Duration) []wireFrame {
	t.Helper()
	var seen []wireFrame
	_ = conn.SetReadDeadline(time.Now().Add(within))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				t.Fatalf("expected close %d, got %v (frames %+v)", code, err, seen)
			}
			if ce.Code != code {
				t.Fatalf("close code = %d (%q); want %d", ce.Code, ce.Text, code)
			}
			return seen
		}
		var f wireFrame
		_ = json.Unmarshal(data, &f)
		seen = append(seen, f)
	}
}

func i64(v int64) *int64 { return &v }
