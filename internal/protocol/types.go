package protocol

// ClientInfo identifies this client instance during the connect handshake.
type ClientInfo struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Mode       string `json:"mode"`
	InstanceID string `json:"instanceId"`
}

// AuthParams carries the bearer token inside the connect request.
type AuthParams struct {
	Token string `json:"token"`
}

// ConnectParams is the body of the connect handshake request, sent only
// after the gateway has issued a connect.challenge event.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Role        string     `json:"role"`
	Scopes      []string   `json:"scopes"`
	Caps        []string   `json:"caps"`
	Auth        AuthParams `json:"auth"`
	UserAgent   string     `json:"userAgent,omitempty"`
	Locale      string     `json:"locale,omitempty"`
}

// ChatHistoryParams requests the most recent messages of a session.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

// ChatSendParams submits a prompt to a session. Deliver=false together with
// Silent keeps the exchange out of the session's visible transcript, which
// is how quick commands are correlated out of band.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
	IdempotencyKey string `json:"idempotencyKey"`
	Silent         bool   `json:"silent,omitempty"`
}

// SessionsListParams requests the active session roster. Either
// ActiveMinutes or Limit scopes the listing; MessageLimit bounds how many
// trailing messages are attached per session.
type SessionsListParams struct {
	ActiveMinutes int `json:"activeMinutes,omitempty"`
	Limit         int `json:"limit,omitempty"`
	MessageLimit  int `json:"messageLimit,omitempty"`
}

// RegisterPushParams registers a device push token with the gateway.
type RegisterPushParams struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// ChallengePayload is the body of a connect.challenge event. The nonce is
// valid for exactly one handshake attempt.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// ChatEventPayload is the body of a chat event. For delta states Message
// holds the full accumulated text so far, not an incremental suffix.
type ChatEventPayload struct {
	State      string `json:"state"`
	SessionKey string `json:"sessionKey,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AgentLifecyclePayload is the body of agent.started / agent.completed
// events and of roster entries inside session.status.
type AgentLifecyclePayload struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
	Model  string `json:"model,omitempty"`
}

// SessionStatusPayload is the body of a session.status event. Absent fields
// leave the cached value untouched, so every field that can legitimately be
// zero is a pointer.
type SessionStatusPayload struct {
	Task      *string                 `json:"task,omitempty"`
	Model     *string                 `json:"model,omitempty"`
	UptimeSec *int64                  `json:"uptimeSec,omitempty"`
	Agents    []AgentLifecyclePayload `json:"agents,omitempty"`
}

// HistoryMessage is one transcript entry in a chat.history response.
type HistoryMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	ImageURL  string `json:"imageUrl,omitempty"`
}

// ChatHistoryResult is the payload of a chat.history response.
type ChatHistoryResult struct {
	Messages []HistoryMessage `json:"messages"`
}

// SessionRecord is one roster entry in a sessions.list response.
type SessionRecord struct {
	Key         string `json:"key"`
	Model       string `json:"model,omitempty"`
	Label       string `json:"label,omitempty"`
	UpdatedAt   int64  `json:"updatedAt"` // unix milliseconds
	LastMessage string `json:"lastMessage,omitempty"`
	TotalTokens int64  `json:"totalTokens,omitempty"`
}

// SessionsListResult is the payload of a sessions.list response.
type SessionsListResult struct {
	Sessions []SessionRecord `json:"sessions"`
}
