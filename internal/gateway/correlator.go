package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/codefionn/agentbridge/internal/protocol"
)

// requestCounter feeds monotonically increasing request ids. Process-wide so
// ids stay unique even across client instances.
var requestCounter atomic.Uint64

const requestIDPrefix = "ab"

func nextRequestID() string {
	return fmt.Sprintf("%s-%d", requestIDPrefix, requestCounter.Add(1))
}

// Response is the outcome of one correlated request.
type Response struct {
	Payload json.RawMessage
	OK      bool
	Err     *protocol.ErrorInfo
}

func (r Response) errOrGeneric() error {
	if r.Err != nil {
		return &GatewayError{Code: r.Err.Code, Message: r.Err.Message, Details: r.Err.Details}
	}
	return errors.New("request failed")
}

// ResponseFunc receives the response for the request it was registered with.
// It is invoked at most once, outside the client mutex. Callbacks registered
// on a transport that has since been torn down are never invoked.
type ResponseFunc func(Response)

type pendingRequest struct {
	id       string
	epoch    int64
	issuedAt time.Time
	fn       ResponseFunc
}

// sendRequestLocked assigns an id, registers the callback, and queues the
// frame. Caller holds mu and has verified the transport is live. The callback
// is registered before the frame leaves so an immediate response always finds
// it.
func (c *Client) sendRequestLocked(method string, params any, fn ResponseFunc) (string, error) {
	if c.tr == nil {
		return "", ErrNotConnected
	}
	id := nextRequestID()
	frame, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", method, err)
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", method, err)
	}
	if fn != nil {
		c.pending[id] = pendingRequest{
			id:       id,
			epoch:    c.epoch,
			issuedAt: c.clock.Now(),
			fn:       fn,
		}
	}
	if !c.tr.enqueue(data) {
		delete(c.pending, id)
		return "", errSendQueueFull
	}
	return id, nil
}

// handleResponse resolves a response frame against the pending map. Unknown
// or already-resolved ids are dropped silently; responses from a previous
// epoch never reach here because teardown cleared the map.
func (c *Client) handleResponse(epoch int64, frame *protocol.Frame) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	req, ok := c.pending[frame.ID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("response for unknown request id %q dropped", frame.ID)
		return
	}
	delete(c.pending, frame.ID)
	c.mu.Unlock()

	res := Response{Payload: frame.Payload, Err: frame.Error}
	if frame.OK != nil {
		res.OK = *frame.OK
	} else {
		res.OK = frame.Error == nil
	}
	req.fn(res)
}
