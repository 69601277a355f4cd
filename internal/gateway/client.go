package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/codefionn/agentbridge/internal/logger"
	"github.com/codefionn/agentbridge/internal/protocol"
)

// Config holds the static parameters of one client instance.
type Config struct {
	// URL is the gateway endpoint: ws://host:port for LAN, wss://host when
	// proxied. The Origin header is derived from its scheme.
	URL string

	// SessionKey scopes the conversation on the gateway.
	SessionKey string

	Client      protocol.ClientInfo
	Role        string
	Scopes      []string
	Caps        []string
	MinProtocol int
	MaxProtocol int
	UserAgent   string
	Locale      string

	HistoryLimit          int
	SessionsLimit         int
	SessionsActiveMinutes int
	SessionsMessageLimit  int

	PingInterval        time.Duration
	PollInterval        time.Duration
	GraceWindow         time.Duration
	RetryDelay          time.Duration
	HandshakeTimeout    time.Duration
	QuickCommandTimeout time.Duration
	QuickFallbackDelay  time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Role == "" {
		cfg.Role = "client"
	}
	if cfg.Scopes == nil {
		cfg.Scopes = []string{"chat", "sessions"}
	}
	if cfg.MinProtocol <= 0 {
		cfg.MinProtocol = 1
	}
	if cfg.MaxProtocol < cfg.MinProtocol {
		cfg.MaxProtocol = cfg.MinProtocol
	}
	if cfg.Client.InstanceID == "" {
		cfg.Client.InstanceID = uuid.NewString()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.SessionsLimit <= 0 && cfg.SessionsActiveMinutes <= 0 {
		cfg.SessionsLimit = 50
	}
	if cfg.SessionsMessageLimit <= 0 {
		cfg.SessionsMessageLimit = 1
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 3 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.QuickCommandTimeout <= 0 {
		cfg.QuickCommandTimeout = 45 * time.Second
	}
	if cfg.QuickFallbackDelay <= 0 {
		cfg.QuickFallbackDelay = time.Second
	}
	return cfg
}

// TokenProvider hands out the bearer token at handshake time. The token is
// fetched per attempt so rotated credentials are picked up on reconnect.
type TokenProvider interface {
	Token() (string, error)
}

// Deps are the injected collaborators of a client. Zero values fall back to
// the real WebSocket dialer and the system clock.
type Deps struct {
	Dialer Dialer
	Clock  Clock
	Tokens TokenProvider
	Sink   StateSink

	// OnConnected fires once per transition into the connected state; a
	// silent reconnect inside the grace window does not re-fire it.
	OnConnected func()
	// OnDisconnected fires when an outage becomes visible, i.e. when the
	// grace window expires without a successful silent reconnect.
	OnDisconnected func()
}

// Client is the persistent gateway session. One instance owns at most one
// transport at a time; every state mutation is serialized under mu, and
// every timer or pending callback is tagged with the epoch of the transport
// attempt that created it so stale completions are discarded.
type Client struct {
	cfg    Config
	dialer Dialer
	clock  Clock
	tokens TokenProvider
	sink   StateSink
	log    *logger.Logger

	onConnected    func()
	onDisconnected func()

	mu      sync.Mutex
	state   ConnectionState
	hsPhase handshakePhase
	epoch   int64
	tr      *transport
	connErr string
	nonce   string

	pending map[string]pendingRequest

	messages     []ChatMessage
	thinking     bool
	thinkingText string
	deltaHash    uint64

	task         string
	model        string
	agents       map[string]AgentInfo
	sessions     []ActiveSession
	uptimeAnchor time.Time

	quick *quickCommand

	hsTimer    Timer
	graceTimer Timer
	retryTimer Timer
	pollTimer  Timer
	retry      backoff.BackOff

	userClosed bool
}

// New constructs a client. It does not touch the network until Connect.
func New(cfg Config, deps Deps) *Client {
	cfg = cfg.withDefaults()
	if deps.Dialer == nil {
		deps.Dialer = &WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	return &Client{
		cfg:            cfg,
		dialer:         deps.Dialer,
		clock:          deps.Clock,
		tokens:         deps.Tokens,
		sink:           deps.Sink,
		log:            logger.Global().WithPrefix("gateway"),
		onConnected:    deps.OnConnected,
		onDisconnected: deps.OnDisconnected,
		state:          StateIdle,
		pending:        make(map[string]pendingRequest),
		agents:         make(map[string]AgentInfo),
		retry:          backoff.NewConstantBackOff(cfg.RetryDelay),
	}
}

// Connect starts the connection attempt. It is a no-op while an attempt or a
// live connection exists.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	c.userClosed = false
	c.retry.Reset()
	epoch := c.bumpEpochLocked()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.publish()
	go c.dial(epoch)
}

// Disconnect tears everything down immediately: no grace period, all timers
// and pending callbacks of the current epoch become inert before the call
// returns, and no reconnect is attempted until ReconnectIfNeeded or Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.userClosed = true
	c.bumpEpochLocked()
	c.stopSupervisorTimersLocked()
	c.teardownTransportLocked()
	c.setStateLocked(StateIdle)
	c.connErr = ""
	c.uptimeAnchor = time.Time{}
	c.clearStreamingLocked()
	c.mu.Unlock()
	c.publish()
}

// ReconnectIfNeeded starts a connection attempt when none is live or in
// flight. Safe to call from foreground-activation style hooks.
func (c *Client) ReconnectIfNeeded() {
	c.mu.Lock()
	idle := c.state == StateIdle || c.state == StateFailed
	c.mu.Unlock()
	if idle {
		c.Connect()
	}
}

// SendChat submits a user message to the main conversation and appends it to
// the local transcript.
func (c *Client) SendChat(text string) error {
	c.mu.Lock()
	if !c.connectedLocked() || c.tr == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	params := protocol.ChatSendParams{
		SessionKey:     c.cfg.SessionKey,
		Message:        text,
		Deliver:        true,
		IdempotencyKey: uuid.NewString(),
	}
	if _, err := c.sendRequestLocked(protocol.MethodChatSend, params, nil); err != nil {
		c.mu.Unlock()
		return err
	}
	c.messages = append(c.messages, ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		FromUser:  true,
		Timestamp: c.clock.Now(),
	})
	c.mu.Unlock()
	c.publish()
	return nil
}

// RegisterPush forwards a device push token to the gateway. Fire-and-forget;
// a rejected registration is only logged.
func (c *Client) RegisterPush(token, platform string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectedLocked() || c.tr == nil {
		return ErrNotConnected
	}
	params := protocol.RegisterPushParams{Token: token, Platform: platform}
	_, err := c.sendRequestLocked(protocol.MethodRegisterPush, params, func(res Response) {
		if !res.OK {
			c.log.Warn("push token registration rejected: %v", res.errOrGeneric())
		}
	})
	return err
}

// IsConnected reports whether the client is observably connected. A grace
// period masks the underlying outage, so it still counts as connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

// State returns the current lifecycle state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionError returns the human-readable reason of the last visible
// failure, empty while healthy.
func (c *Client) ConnectionError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connErr
}

// SessionUptime reports how long the session has been observably connected.
// It is continuous across silent reconnects and zero while disconnected.
func (c *Client) SessionUptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uptimeLocked(c.clock.Now())
}

// Messages returns a copy of the visible transcript.
func (c *Client) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// ActiveSessions returns the polled roster with activity evaluated now.
func (c *Client) ActiveSessions() []SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionViewsLocked(c.clock.Now())
}

// Snapshot captures the whole observable surface at once.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// dial opens a socket for the given epoch and hands it to the pumps. Runs on
// its own goroutine because dialing blocks.
func (c *Client) dial(epoch int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	cancel()

	c.mu.Lock()
	if epoch != c.epoch || c.userClosed {
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn("dial failed: %v", err)
		if c.state == StateGracePeriod {
			// Stay masked; the grace timer surfaces the outage.
			c.mu.Unlock()
			return
		}
		c.connErr = fmt.Sprintf("connection failed: %v", err)
		c.scheduleRetryLocked()
		c.mu.Unlock()
		c.publish()
		return
	}

	t := newTransport(conn)
	c.tr = t
	c.hsPhase = phaseAwaitingChallenge
	if c.state != StateGracePeriod {
		c.setStateLocked(StateAwaitingChallenge)
	}
	c.hsTimer = c.clock.AfterFunc(c.cfg.HandshakeTimeout, func() {
		c.handshakeFailed(epoch, "handshake timed out")
	})
	c.mu.Unlock()

	t.start(c.cfg.PingInterval,
		func(data []byte) { c.dispatch(epoch, data) },
		func(err error) { c.transportFailed(epoch, err) })
	c.publish()
}

// transportFailed routes a socket-level failure through the supervisor. It
// is never surfaced to a caller directly.
func (c *Client) transportFailed(epoch int64, err error) {
	c.mu.Lock()
	if epoch != c.epoch || c.userClosed {
		c.mu.Unlock()
		return
	}
	c.log.Warn("transport failure: %v", err)
	wasConnected := c.state == StateConnected
	wasGrace := c.state == StateGracePeriod
	c.teardownTransportLocked()

	if wasConnected {
		// Mask the outage: keep the uptime anchor, suppress every
		// user-visible mutation, and race a silent reconnect against
		// the grace timer.
		c.setStateLocked(StateGracePeriod)
		next := c.bumpEpochLocked()
		c.graceTimer = c.clock.AfterFunc(c.cfg.GraceWindow, func() {
			c.graceExpired(next)
		})
		c.mu.Unlock()
		go c.dial(next)
		return
	}
	if wasGrace {
		// The silent attempt died; the grace timer decides what happens.
		c.mu.Unlock()
		return
	}
	c.connErr = fmt.Sprintf("connection failed: %v", err)
	c.scheduleRetryLocked()
	c.mu.Unlock()
	c.publish()
}

// graceExpired flips a masked outage into a visible one.
func (c *Client) graceExpired(epoch int64) {
	c.mu.Lock()
	if epoch != c.epoch || c.userClosed || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.graceTimer = nil
	c.teardownTransportLocked()
	c.uptimeAnchor = time.Time{}
	c.clearStreamingLocked()
	c.connErr = "connection lost"
	c.scheduleRetryLocked()
	onDisconnected := c.onDisconnected
	c.mu.Unlock()
	c.publish()
	if onDisconnected != nil {
		onDisconnected()
	}
}

// scheduleRetryLocked arms the fixed-delay retry used both for first-time
// connect failures and for visible outages.
func (c *Client) scheduleRetryLocked() {
	c.setStateLocked(StateReconnecting)
	epoch := c.bumpEpochLocked()
	delay := c.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = c.cfg.RetryDelay
	}
	c.retryTimer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if epoch != c.epoch || c.userClosed {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()
		c.publish()
		c.dial(epoch)
	})
}

// teardownTransportLocked closes the socket and discards everything bound to
// it: pending request callbacks are dropped without being invoked, the
// challenge nonce dies, and the quick-command slot (if any) goes inert.
func (c *Client) teardownTransportLocked() {
	if c.tr != nil {
		c.tr.close()
		c.tr = nil
	}
	c.nonce = ""
	c.hsPhase = phaseNone
	if c.hsTimer != nil {
		c.hsTimer.Stop()
		c.hsTimer = nil
	}
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
	if len(c.pending) > 0 {
		c.pending = make(map[string]pendingRequest)
	}
	if c.quick != nil {
		c.quick.stopTimers()
		c.quick = nil
	}
}

func (c *Client) stopSupervisorTimersLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) clearStreamingLocked() {
	c.thinking = false
	c.thinkingText = ""
	c.deltaHash = 0
}

func (c *Client) bumpEpochLocked() int64 {
	c.epoch++
	return c.epoch
}

func (c *Client) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.log.Debug("connection state %s -> %s", c.state, s)
	c.state = s
}

func (c *Client) connectedLocked() bool {
	return c.state == StateConnected || c.state == StateGracePeriod
}

func (c *Client) uptimeLocked(now time.Time) time.Duration {
	if !c.connectedLocked() || c.uptimeAnchor.IsZero() {
		return 0
	}
	return now.Sub(c.uptimeAnchor)
}

func (c *Client) sessionViewsLocked(now time.Time) []SessionView {
	views := make([]SessionView, 0, len(c.sessions))
	for _, s := range c.sessions {
		views = append(views, SessionView{ActiveSession: s, IsActive: s.ActiveAt(now)})
	}
	return views
}

func (c *Client) snapshotLocked() Snapshot {
	now := c.clock.Now()

	msgs := make([]ChatMessage, len(c.messages))
	copy(msgs, c.messages)

	agents := make([]AgentInfo, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	return Snapshot{
		Connected:       c.connectedLocked(),
		State:           c.state,
		ConnectionError: c.connErr,
		CurrentTask:     c.task,
		ModelName:       c.model,
		ActiveSubAgents: len(c.agents),
		ActiveAgents:    agents,
		SessionUptime:   c.uptimeLocked(now),
		Thinking:        c.thinking,
		ThinkingText:    c.thinkingText,
		Messages:        msgs,
		ActiveSessions:  c.sessionViewsLocked(now),
		CapturedAt:      now,
	}
}

// publish pushes a fresh snapshot to the sink after an observable mutation.
func (c *Client) publish() {
	if c.sink == nil {
		return
	}
	c.sink.Write(c.Snapshot())
}
