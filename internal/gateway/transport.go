package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/agentbridge/internal/logger"
	"github.com/codefionn/agentbridge/internal/protocol"
)

const (
	// Time allowed to write a frame to the gateway.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the gateway.
	maxMessageSize = 1 << 20

	// Outbound queue capacity before frames are dropped.
	sendQueueSize = 256
)

// Conn is one established socket. The WebSocket flavor lives below; tests
// substitute an in-memory implementation through Dialer.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to the gateway.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// DeriveOrigin maps the connection scheme onto the Origin header value the
// gateway expects: wss -> https, ws -> http, same host either way.
func DeriveOrigin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url: %w", err)
	}
	var scheme string
	switch u.Scheme {
	case "wss":
		scheme = "https"
	case "ws":
		scheme = "http"
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("gateway url %q has no host", rawURL)
	}
	return scheme + "://" + u.Host, nil
}

// WebSocketDialer dials the gateway over gorilla/websocket with the Origin
// header derived from the target scheme.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	origin, err := DeriveOrigin(rawURL)
	if err != nil {
		return nil, err
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	header := http.Header{}
	header.Set("Origin", origin)

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn}, nil
}

// wsConn serializes writes: gorilla/websocket supports one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// transport owns the read and write pumps for one socket. It sends a
// protocol-level ping on a fixed interval; missing replies are NOT tracked,
// so a half-dead path is only detected when a write fails. Known gap, kept
// as observed behavior.
type transport struct {
	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newTransport(conn Conn) *transport {
	return &transport{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// start launches the pumps. onFrame runs on the read pump goroutine; onError
// fires once per failing pump and may fire from either side.
func (t *transport) start(pingInterval time.Duration, onFrame func([]byte), onError func(error)) {
	go t.readPump(onFrame, onError)
	go t.writePump(pingInterval, onError)
}

func (t *transport) readPump(onFrame func([]byte), onError func(error)) {
	for {
		data, err := t.conn.ReadMessage()
		if err != nil {
			onError(err)
			return
		}
		onFrame(data)
	}
}

func (t *transport) writePump(pingInterval time.Duration, onError func(error)) {
	var pingC <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	ping, err := protocol.Encode(protocol.NewPing())
	if err != nil {
		ping = []byte(`{"type":"ping"}`)
	}

	for {
		select {
		case <-t.done:
			return
		case data := <-t.send:
			if err := t.conn.WriteMessage(data); err != nil {
				onError(err)
				return
			}
		case <-pingC:
			if err := t.conn.WriteMessage(ping); err != nil {
				onError(err)
				return
			}
		}
	}
}

// enqueue queues a frame for the write pump. A full queue drops the frame.
func (t *transport) enqueue(data []byte) bool {
	select {
	case t.send <- data:
		return true
	case <-t.done:
		return false
	default:
		logger.Warn("gateway send queue full, dropping frame")
		return false
	}
}

func (t *transport) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}
