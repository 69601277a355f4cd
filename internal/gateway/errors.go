package gateway

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by the request surface when no transport is
// live. Transport-level failures are never returned this way; they are routed
// through the reconnect supervisor instead.
var ErrNotConnected = errors.New("not connected to gateway")

// errSendQueueFull reports a dropped outbound frame. The caller sees it as a
// failed send; the connection itself stays up.
var errSendQueueFull = errors.New("send queue full")

// GatewayError is a gateway-reported failure on a response frame.
type GatewayError struct {
	Code    string
	Message string
	Details string
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}
