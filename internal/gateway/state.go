package gateway

import (
	"strings"
	"time"
)

// ConnectionState is the lifecycle state of the single logical connection.
type ConnectionState int

const (
	// StateIdle means no connection exists and none is being attempted.
	StateIdle ConnectionState = iota
	// StateConnecting means a socket dial is in flight.
	StateConnecting
	// StateAwaitingChallenge means the socket is open and the client is
	// waiting for the gateway to issue a connect.challenge event.
	StateAwaitingChallenge
	// StateHandshaking means the connect request has been sent and its
	// response is pending.
	StateHandshaking
	// StateConnected means the handshake completed.
	StateConnected
	// StateGracePeriod means the transport just failed but the outage is
	// still masked from observers while a silent reconnect runs.
	StateGracePeriod
	// StateReconnecting means a visible outage is being retried.
	StateReconnecting
	// StateFailed means the client gave up until asked to reconnect.
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting-challenge"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateGracePeriod:
		return "grace-period"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionKind classifies a gateway session by its key shape.
type SessionKind string

const (
	SessionKindMain     SessionKind = "main"
	SessionKindSubagent SessionKind = "subagent"
	SessionKindCron     SessionKind = "cron"
	SessionKindGroup    SessionKind = "group"
	SessionKindOther    SessionKind = "other"
)

// ClassifySessionKind derives a session's kind from substring patterns in
// its key. Subagent/cron markers win over a trailing :main segment.
func ClassifySessionKind(key string) SessionKind {
	switch {
	case strings.Contains(key, ":subagent:"):
		return SessionKindSubagent
	case strings.Contains(key, ":cron:"):
		return SessionKindCron
	case strings.Contains(key, ":group:") || strings.Contains(key, ":channel:"):
		return SessionKindGroup
	case strings.HasSuffix(key, ":main"):
		return SessionKindMain
	default:
		return SessionKindOther
	}
}

// activeWindow is how recently a session must have been updated to count as
// active.
const activeWindow = 5 * time.Minute

// ChatMessage is one entry of the visible transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	FromUser  bool      `json:"fromUser"`
	Timestamp time.Time `json:"timestamp"`
	ImageURL  string    `json:"imageUrl,omitempty"`
}

// ActiveSession is one entry of the polled session roster.
type ActiveSession struct {
	Key         string      `json:"key"`
	Model       string      `json:"model,omitempty"`
	Label       string      `json:"label,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	LastMessage string      `json:"lastMessage,omitempty"`
	Kind        SessionKind `json:"kind"`
	TotalTokens int64       `json:"totalTokens,omitempty"`
}

// ActiveAt reports whether the session was updated within the active window.
// Derived on every read, never stored.
func (s ActiveSession) ActiveAt(now time.Time) bool {
	return now.Sub(s.UpdatedAt) <= activeWindow
}

// SessionView is an ActiveSession with its activity flag evaluated at
// snapshot time.
type SessionView struct {
	ActiveSession
	IsActive bool `json:"isActive"`
}

// AgentInfo is one running sub-agent as reported by the gateway.
type AgentInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Snapshot is the read-only observable surface handed to UI and widget
// consumers. It is a value copy; mutating it has no effect on the client.
type Snapshot struct {
	Connected       bool            `json:"connected"`
	State           ConnectionState `json:"state"`
	ConnectionError string          `json:"connectionError,omitempty"`
	CurrentTask     string          `json:"currentTask,omitempty"`
	ModelName       string          `json:"modelName,omitempty"`
	ActiveSubAgents int             `json:"activeSubAgents"`
	ActiveAgents    []AgentInfo     `json:"activeAgents,omitempty"`
	SessionUptime   time.Duration   `json:"sessionUptime"`
	Thinking        bool            `json:"thinking"`
	ThinkingText    string          `json:"thinkingText,omitempty"`
	Messages        []ChatMessage   `json:"messages"`
	ActiveSessions  []SessionView   `json:"activeSessions"`
	CapturedAt      time.Time       `json:"capturedAt"`
}

// StateSink receives a snapshot after every observable mutation. Consumers
// externalize it (widgets, home surfaces); the storage mechanism is theirs.
type StateSink interface {
	Write(Snapshot)
}
