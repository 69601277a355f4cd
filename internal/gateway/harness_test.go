package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codefionn/agentbridge/internal/protocol"
)

// fakeClock drives every client timer deterministically. Advance moves time
// forward and fires due timers in order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.when.After(c.now) {
			c.now = next.when
		}
		next.fired = true
		fn := next.fn
		c.mu.Unlock()
		fn()
	}
}

// fakeConn is an in-memory socket the tests play gateway through.
type fakeConn struct {
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fail simulates the peer dropping the socket.
func (c *fakeConn) fail() { _ = c.Close() }

func (c *fakeConn) serverSend(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	select {
	case c.inbox <- data:
	case <-time.After(time.Second):
		t.Fatal("client not reading")
	}
}

func (c *fakeConn) serverSendRaw(t *testing.T, raw string) {
	t.Helper()
	select {
	case c.inbox <- []byte(raw):
	case <-time.After(time.Second):
		t.Fatal("client not reading")
	}
}

// requests returns every decoded req frame with the given method, in order.
func (c *fakeConn) requests(method string) []*protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Frame
	for _, data := range c.writes {
		var f protocol.Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		if f.Type == protocol.TypeReq && f.Method == method {
			cp := f
			out = append(out, &cp)
		}
	}
	return out
}

func (c *fakeConn) framesOfType(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, data := range c.writes {
		var f protocol.Frame
		if json.Unmarshal(data, &f) == nil && f.Type == typ {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns and can be told to fail.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		d.conns = append(d.conns, nil)
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) connAt(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// recordingSink counts snapshot publications.
type recordingSink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *recordingSink) Write(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

type staticTokens struct{ token string }

func (s staticTokens) Token() (string, error) { return s.token, nil }

// harness wires a client to the fakes and scripts the gateway side.
type harness struct {
	t           *testing.T
	clock       *fakeClock
	dialer      *fakeDialer
	sink        *recordingSink
	client      *Client
	connects    atomic.Int32
	disconnects atomic.Int32
	consumed    map[string]int
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:        t,
		clock:    newFakeClock(),
		dialer:   &fakeDialer{},
		sink:     &recordingSink{},
		consumed: make(map[string]int),
	}
	cfg := Config{
		URL:          "ws://gateway.local:18789",
		SessionKey:   "agent:default:main",
		PingInterval: -1, // protocol pings off; tests script keepalive themselves
		Client:       protocol.ClientInfo{ID: "test-client", Version: "0.0.1"},
	}
	h.client = New(cfg, Deps{
		Dialer:         h.dialer,
		Clock:          h.clock,
		Tokens:         staticTokens{token: "tok-123"},
		Sink:           h.sink,
		OnConnected:    func() { h.connects.Add(1) },
		OnDisconnected: func() { h.disconnects.Add(1) },
	})
	return h
}

func (h *harness) awaitConn(i int) *fakeConn {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.dialer.connAt(i) != nil },
		2*time.Second, time.Millisecond, "dial attempt %d never happened", i)
	return h.dialer.connAt(i)
}

// awaitRequest waits for the next not-yet-consumed request with the given
// method on conn.
func (h *harness) awaitRequest(conn *fakeConn, method string) *protocol.Frame {
	h.t.Helper()
	key := fmt.Sprintf("%p/%s", conn, method)
	var frame *protocol.Frame
	require.Eventually(h.t, func() bool {
		reqs := conn.requests(method)
		if len(reqs) <= h.consumed[key] {
			return false
		}
		frame = reqs[h.consumed[key]]
		return true
	}, 2*time.Second, time.Millisecond, "no %s request arrived", method)
	h.consumed[key]++
	return frame
}

// assertNoRequest verifies no new request with the method shows up within a
// short real-time window.
func (h *harness) assertNoRequest(conn *fakeConn, method string) {
	h.t.Helper()
	key := fmt.Sprintf("%p/%s", conn, method)
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(h.t, len(conn.requests(method)), h.consumed[key],
		"unexpected extra %s request", method)
}

func (h *harness) respondOK(conn *fakeConn, id string, payload any) {
	h.t.Helper()
	res := map[string]any{"type": "res", "id": id, "ok": true}
	if payload != nil {
		res["payload"] = payload
	}
	conn.serverSend(h.t, res)
}

func (h *harness) respondErr(conn *fakeConn, id, code, message string) {
	h.t.Helper()
	conn.serverSend(h.t, map[string]any{
		"type": "res", "id": id, "ok": false,
		"error": map[string]string{"code": code, "message": message},
	})
}

func (h *harness) sendChallenge(conn *fakeConn, nonce string) {
	conn.serverSend(h.t, map[string]any{
		"type": "event", "event": "connect.challenge",
		"payload": map[string]string{"nonce": nonce},
	})
}

func (h *harness) sendChat(conn *fakeConn, state, message, errText string) {
	payload := map[string]any{
		"state":      state,
		"sessionKey": "agent:default:main",
	}
	if message != "" {
		payload["message"] = message
	}
	if errText != "" {
		payload["error"] = errText
	}
	conn.serverSend(h.t, map[string]any{"type": "event", "event": "chat", "payload": payload})
}

// completeHandshake plays the gateway side of a successful handshake and
// answers the initial history and sessions requests with empty results.
func (h *harness) completeHandshake(conn *fakeConn) {
	h.t.Helper()
	h.sendChallenge(conn, "nonce-1")

	connect := h.awaitRequest(conn, protocol.MethodConnect)
	var params protocol.ConnectParams
	require.NoError(h.t, json.Unmarshal(connect.Params, &params))
	require.Equal(h.t, "tok-123", params.Auth.Token)
	h.respondOK(conn, connect.ID, map[string]any{"protocol": 1})

	history := h.awaitRequest(conn, protocol.MethodChatHistory)
	h.respondOK(conn, history.ID, map[string]any{"messages": []any{}})

	sessions := h.awaitRequest(conn, protocol.MethodSessionsList)
	h.respondOK(conn, sessions.ID, map[string]any{"sessions": []any{}})

	require.Eventually(h.t, func() bool { return h.client.State() == StateConnected },
		2*time.Second, time.Millisecond)
}

func (h *harness) connect() *fakeConn {
	h.t.Helper()
	h.client.Connect()
	conn := h.awaitConn(0)
	h.completeHandshake(conn)
	return conn
}
