// Package protocol defines the JSON wire format spoken with the agent
// gateway: a single envelope carrying requests, responses, events and
// keepalive frames over one WebSocket connection.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope type tags. The gateway never sends anything outside this set;
// anything else is a protocol error and the frame is dropped.
const (
	TypeReq   = "req"
	TypeRes   = "res"
	TypeEvent = "event"
	TypePing  = "ping"
	TypePong  = "pong"
)

// Event names consumed by the client. Unknown event names are ignored so
// newer gateways can add events without breaking older clients.
const (
	EventChallenge      = "connect.challenge"
	EventChat           = "chat"
	EventSessionStatus  = "session.status"
	EventAgentStarted   = "agent.started"
	EventAgentCompleted = "agent.completed"
)

// Chat stream states carried in a chat event payload.
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateError   = "error"
	ChatStateAborted = "aborted"
)

// Outbound method names.
const (
	MethodConnect      = "connect"
	MethodChatHistory  = "chat.history"
	MethodChatSend     = "chat.send"
	MethodSessionsList = "sessions.list"
	MethodRegisterPush = "device.registerPush"
)

// Kind classifies a decoded frame.
type Kind int

const (
	// KindReq is a request frame (gateway-initiated requests are not part
	// of this protocol version but the tag is reserved on the wire).
	KindReq Kind = iota
	// KindRes is a response to a previously sent request.
	KindRes
	// KindEvent is a server-pushed event.
	KindEvent
	// KindPing is a keepalive probe that must be answered with a pong.
	KindPing
	// KindPong is a keepalive reply.
	KindPong
)

func (k Kind) String() string {
	switch k {
	case KindReq:
		return TypeReq
	case KindRes:
		return TypeRes
	case KindEvent:
		return TypeEvent
	case KindPing:
		return TypePing
	case KindPong:
		return TypePong
	default:
		return "unknown"
	}
}

// Frame is the wire envelope. Only the fields matching the frame's type are
// populated; the rest stay at their zero value and are omitted when encoding.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
}

// ErrorInfo carries a gateway-side error on a response frame.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *ErrorInfo) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

// UnknownFrameError reports a frame whose type tag is outside the protocol.
type UnknownFrameError struct {
	Type string
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

// Classify decodes raw bytes into a Frame and assigns its Kind. Malformed
// JSON and unrecognized type tags are rejected here, at the parse boundary,
// so the dispatcher only ever sees frames from the known set.
func Classify(data []byte) (*Frame, Kind, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, 0, fmt.Errorf("malformed frame: %w", err)
	}
	switch f.Type {
	case TypeReq:
		return &f, KindReq, nil
	case TypeRes:
		return &f, KindRes, nil
	case TypeEvent:
		return &f, KindEvent, nil
	case TypePing:
		return &f, KindPing, nil
	case TypePong:
		return &f, KindPong, nil
	default:
		return nil, 0, &UnknownFrameError{Type: f.Type}
	}
}

// NewRequest builds a req frame with the given id, method and params.
func NewRequest(id, method string, params interface{}) (*Frame, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		raw = data
	}
	return &Frame{Type: TypeReq, ID: id, Method: method, Params: raw}, nil
}

// NewPing builds a keepalive ping frame.
func NewPing() *Frame {
	return &Frame{Type: TypePing}
}

// NewPong builds the reply to a keepalive ping.
func NewPong() *Frame {
	return &Frame{Type: TypePong}
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}
