package realtime

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-consult-chat/internal/auth"
	"github.com/tbourn/go-consult-chat/internal/config"
)

func TestGateway_HandshakeCredential(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	conn := f.dial(t, issue(t, patient42, time.Hour))

	ready := expect(t, conn, FrameReady)
	if ready.SessionID == "" || ready.Identity != "patient:42" {
		t.Fatalf("unexpected ready frame: %+v", ready)
	}
}

func TestGateway_AuthFrame(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	conn := f.dial(t, "")

	send(t, conn, map[string]string{"type": FrameAuth, "token": issue(t, doctor7, time.Hour)})
	if ready := expect(t, conn, FrameReady); ready.Identity != "doctor:7" {
		t.Fatalf("identity = %q", ready.Identity)
	}
}

func TestGateway_SubprotocolCredential(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	d := websocket.Dialer{Subprotocols: []string{auth.BearerProtocol, issue(t, patient42, time.Hour)}}
	conn, resp, err := d.Dial(f.url(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != auth.BearerProtocol {
		t.Fatalf("negotiated subprotocol = %q; want %q", got, auth.BearerProtocol)
	}
	expect(t, conn, FrameReady)
}

func TestGateway_AuthWindowElapses(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	conn := f.dial(t, "")

	start := time.Now()
	frames := expectClose(t, conn, CloseUnauthenticated, 2*time.Second)
	if len(frames) != 1 || frames[0].Type != FrameError || frames[0].Code != "unauthenticated" {
		t.Fatalf("expected a single unauthenticated error frame, got %+v", frames)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("session outlived the auth window: %v", time.Since(start))
	}
}

func TestGateway_ExpiredCredentialCannotJoin(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	room, _, err := f.rooms.Open(context.Background(), patient42, 7)
	if err != nil {
		t.Fatalf("open room: %v", err)
	}
	expired := issue(t, patient42, -time.Minute)

	t.Run("handshake", func(t *testing.T) {
		conn := f.dial(t, expired)
		_ = conn.WriteJSON(inbound{Type: FrameJoin, RoomID: room.ID})
		frames := expectClose(t, conn, CloseUnauthenticated, 2*time.Second)
		for _, fr := range frames {
			if fr.Type == FrameJoined {
				t.Fatalf("expired credential joined a room")
			}
		}
	})

	t.Run("auth frame", func(t *testing.T) {
		conn := f.dial(t, "")
		send(t, conn, map[string]string{"type": FrameAuth, "token": expired})
		frames := expectClose(t, conn, CloseUnauthenticated, 2*time.Second)
		if len(frames) == 0 || frames[0].Code != "unauthenticated" {
			t.Fatalf("expected unauthenticated error frame, got %+v", frames)
		}
	})
}

func TestGateway_FrameBeforeAuthIsRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	conn := f.dial(t, "")
	send(t, conn, inbound{Type: FrameJoin, RoomID: "whatever"})
	expectClose(t, conn, CloseUnauthenticated, 2*time.Second)
}

func TestGateway_JoinReplaysAndPushesLive(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	room, _, _ := f.rooms.Open(ctx, patient42, 7)
	for i := 0; i < 7; i++ {
		if _, err := f.msgs.Append(ctx, room.ID, doctor7, "note"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	conn := f.connect(t, patient42)
	send(t, conn, inbound{Type: FrameJoin, RoomID: room.ID, LastSeq: i64(2)})
	if j := expect(t, conn, FrameJoined); j.RoomID != room.ID || j.LastSeq != 7 {
		t.Fatalf("unexpected joined frame: %+v", j)
	}
	for want := int64(3); want <= 7; want++ {
		if m := expect(t, conn, FrameMessageNew).msg(t); m.Seq != want {
			t.Fatalf("replay seq = %d; want %d", m.Seq, want)
		}
	}

	if _, err := f.msgs.Append(ctx, room.ID, doctor7, "live"); err != nil {
		t.Fatalf("append: %v", err)
	}
	live := expect(t, conn, FrameMessageNew).msg(t)
	if live.Seq != 8 || live.Body != "live" {
		t.Fatalf("unexpected live message: %+v", live)
	}
}

func TestGateway_ReconnectSinceFive(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	room, _, _ := f.rooms.Open(ctx, patient42, 7)
	for i := 0; i < 5; i++ {
		_, _ = f.msgs.Append(ctx, room.ID, doctor7, "before")
	}
	_, _ = f.msgs.Append(ctx, room.ID, patient42, "six")
	_, _ = f.msgs.Append(ctx, room.ID, doctor7, "seven")

	conn := f.connect(t, patient42)
	send(t, conn, inbound{Type: FrameJoin, RoomID: room.ID, LastSeq: i64(5)})
	expect(t, conn, FrameJoined)
	if m := expect(t, conn, FrameMessageNew).msg(t); m.Seq != 6 || m.Body != "six" {
		t.Fatalf("first replayed = %+v", m)
	}
	if m := expect(t, conn, FrameMessageNew).msg(t); m.Seq != 7 || m.Body != "seven" {
		t.Fatalf("second replayed = %+v", m)
	}
}

func TestGateway_JoinCursorAheadOfLedger(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	room, _, _ := f.rooms.Open(ctx, patient42, 7)
	for i := 0; i < 3; i++ {
		_, _ = f.msgs.Append(ctx, room.ID, doctor7, "before")
	}

	conn := f.connect(t, patient42)
	send(t, conn, inbound{Type: FrameJoin, RoomID: room.ID, LastSeq: i64(100)})
	if j := expect(t, conn, FrameJoined); j.LastSeq != 3 {
		t.Fatalf("joined last_seq = %d; want 3", j.LastSeq)
	}

	for want := int64(4); want <= 6; want++ {
		if _, err := f.msgs.Append(ctx, room.ID, doctor7, "live"); err != nil {
			t.Fatalf("append: %v", err)
		}
		if m := expect(t, conn, FrameMessageNew).msg(t); m.Seq != want {
			t.Fatalf("live seq = %d; want %d", m.Seq, want)
		}
	}
}

func TestGateway_SendTrimsRoomID(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	room, _, _ := f.rooms.Open(context.Background(), patient42, 7)
	conn := f.connect(t, patient42)

	send(t, conn, inbound{Type: FrameSend, RoomID: "  " + room.ID + "\t", Body: "hi", ClientRef: "c-1"})
	ack := expect(t, conn, FrameMessageAck)
	if m := ack.msg(t); m.RoomID != room.ID || m.Seq != 1 {
		t.Fatalf("unexpected ack message: %+v", m)
	}

	send(t, conn, inbound{Type: FrameRead, RoomID: " " + room.ID, ThroughSeq: i64(1)})
	if r := expect(t, conn, FrameReadAck); r.RoomID != room.ID || r.LastReadSeq != 1 {
		t.Fatalf("unexpected read ack: %+v", r)
	}
}

func TestGateway_SendAckAndFanOut(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	room, _, _ := f.rooms.Open(context.Background(), patient42, 7)

	pc := f.connect(t, patient42)
	dc := f.connect(t, doctor7)
	for _, c := range []*websocket.Conn{pc, dc} {
		send(t, c, inbound{Type: FrameJoin, RoomID: room.ID})
		expect(t, c, FrameJoined)
	}

	send(t, pc, inbound{Type: FrameSend, RoomID: room.ID, Body: " hello doctor ", ClientRef: "c-1"})

	got := map[string]wireFrame{}
	for i := 0; i < 2; i++ {
		fr := read(t, pc)
		got[fr.Type] = fr
	}
	ack, ok := got[FrameMessageAck]
	if !ok || ack.ClientRef != "c-1" {
		t.Fatalf("missing ack with client_ref, got %+v", got)
	}
	if _, ok := got[FrameMessageNew]; !ok {
		t.Fatalf("sender's own session should receive the message too, got %+v", got)
	}
	sent := ack.msg(t)
	if sent.Seq != 1 || sent.Body != "hello doctor" {
		t.Fatalf("unexpected ack message: %+v", sent)
	}

	if m := expect(t, dc, FrameMessageNew).msg(t); m.ID != sent.ID {
		t.Fatalf("doctor received %s; want %s", m.ID, sent.ID)
	}

	// retrying the same client_ref acknowledges the original message
	send(t, pc, inbound{Type: FrameSend, RoomID: room.ID, Body: "hello doctor", ClientRef: "c-1"})
	if again := expect(t, pc, FrameMessageAck).msg(t); again.ID != sent.ID {
		t.Fatalf("retry created a new message %s", again.ID)
	}
}

func TestGateway_ErrorFramesKeepSessionOpen(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	room, _, _ := f.rooms.Open(context.Background(), patient42, 7)
	conn := f.connect(t, patient43)

	send(t, conn, inbound{Type: FrameJoin, RoomID: room.ID})
	if e := expect(t, conn, FrameError); e.Code != "forbidden" || e.RoomID != room.ID {
		t.Fatalf("outsider join: %+v", e)
	}
	send(t, conn, inbound{Type: FrameSend, RoomID: room.ID, Body: "   "})
	if e := expect(t, conn, FrameError); e.Code != "invalid_input" {
		t.Fatalf("empty body: %+v", e)
	}
	send(t, conn, inbound{Type: "bogus"})
	if e := expect(t, conn, FrameError); e.Code != "invalid_input" {
		t.Fatalf("unknown type: %+v", e)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expect(t, conn, FrameError)
}

func TestGateway_ReadAndLeave(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	room, _, _ := f.rooms.Open(ctx, patient42, 7)
	for i := 0; i < 3; i++ {
		_, _ = f.msgs.Append(ctx, room.ID, doctor7, "result")
	}

	conn := f.connect(t, patient42)
	send(t, conn, inbound{Type: FrameJoin, RoomID: room.ID})
	expect(t, conn, FrameJoined)

	send(t, conn, inbound{Type: FrameRead, RoomID: room.ID, ThroughSeq: i64(2)})
	ack := expect(t, conn, FrameReadAck)
	if ack.LastReadSeq != 2 || ack.UnreadCount != 1 {
		t.Fatalf("read ack: %+v", ack)
	}

	send(t, conn, inbound{Type: FrameLeave, RoomID: room.ID})
	expect(t, conn, FrameLeft)
	if n := f.hub.Subscribers(room.ID); n != 0 {
		t.Fatalf("hub still has %d subscribers after leave", n)
	}
}

func TestGateway_CredentialExpiryClosesSession(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	conn := f.dial(t, issue(t, patient42, 2*time.Second))
	expect(t, conn, FrameReady)

	frames := expectClose(t, conn, CloseUnauthenticated, 4*time.Second)
	if len(frames) == 0 || frames[len(frames)-1].Code != "unauthenticated" {
		t.Fatalf("expected unauthenticated error before close, got %+v", frames)
	}
}

func TestGateway_RevokedCredentialClosesSession(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	revs := auth.NewRedisRevocations(rdb, "consult")

	f := newFixture(t, fixtureOpts{
		revocations: revs,
		cfg:         func(c *config.RealtimeConfig) { c.ReverifyInterval = 100 * time.Millisecond },
	})
	tok, _, err := auth.IssueToken(testSecret, doctor7, time.Hour, "", "jti-revoke-me")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	conn := f.dial(t, tok)
	expect(t, conn, FrameReady)

	if err := revs.Revoke(context.Background(), "jti-revoke-me", time.Hour); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	expectClose(t, conn, CloseUnauthenticated, 2*time.Second)
}

func TestGateway_OriginCheck(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: func(c *config.RealtimeConfig) {
		c.AllowedOrigins = []string{"https://clinic.example"}
	}})

	h := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url(), h)
	if err == nil {
		t.Fatalf("foreign origin was upgraded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, got %v", resp)
	}

	h = http.Header{"Origin": {"https://clinic.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(f.url(), h)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	_ = conn.Close()
}

func TestGateway_ShutdownSendsDisconnect(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	conn := f.connect(t, patient42)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- f.hub.Shutdown(ctx, ReasonServerShutdown)
	}()

	frames := expectClose(t, conn, websocket.CloseGoingAway, 2*time.Second)
	if len(frames) != 1 || frames[0].Type != FrameDisconnect || frames[0].Reason != ReasonServerShutdown {
		t.Fatalf("expected disconnect frame, got %+v", frames)
	}
	if err := <-done; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if f.hub.Len() != 0 {
		t.Fatalf("hub still tracks %d sessions", f.hub.Len())
	}
}
