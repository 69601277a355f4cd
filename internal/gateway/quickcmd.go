package gateway

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/codefionn/agentbridge/internal/protocol"
)

// ErrQuickCommandTimeout is delivered when a quick command got no terminal
// chat event before the watchdog fired.
var ErrQuickCommandTimeout = errors.New("quick command timed out")

// QuickResultFunc receives the outcome of a quick command. Invoked at most
// once; a superseded or torn-down command never invokes its callback.
type QuickResultFunc func(result string, err error)

// quickCommand is the single capture slot. While it exists, chat events for
// its session are routed into the buffer instead of the transcript.
type quickCommand struct {
	id         string
	sessionKey string
	buffer     string
	fn         QuickResultFunc
	watchdog   Timer
	fallback   Timer
}

func (q *quickCommand) stopTimers() {
	if q.watchdog != nil {
		q.watchdog.Stop()
		q.watchdog = nil
	}
	if q.fallback != nil {
		q.fallback.Stop()
		q.fallback = nil
	}
}

// SendQuickCommand submits text as a silent message and captures the reply
// out of band: the transcript and streaming indicators are untouched. Only
// one quick command is live at a time; a new one silently supersedes the
// previous slot, whose callback is dropped without being invoked.
func (c *Client) SendQuickCommand(text string, fn QuickResultFunc) error {
	c.mu.Lock()
	if !c.connectedLocked() || c.tr == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.quick != nil {
		c.quick.stopTimers()
		c.quick = nil
	}

	epoch := c.epoch
	q := &quickCommand{
		id:         uuid.NewString(),
		sessionKey: c.cfg.SessionKey,
		fn:         fn,
	}
	params := protocol.ChatSendParams{
		SessionKey:     q.sessionKey,
		Message:        text,
		Deliver:        false,
		IdempotencyKey: q.id,
		Silent:         true,
	}
	if _, err := c.sendRequestLocked(protocol.MethodChatSend, params, nil); err != nil {
		c.mu.Unlock()
		return err
	}
	c.quick = q
	q.watchdog = c.clock.AfterFunc(c.cfg.QuickCommandTimeout, func() {
		c.quickTimedOut(epoch, q)
	})
	c.mu.Unlock()
	return nil
}

// finishQuickLocked resolves the slot on a final chat event. An empty final
// with an empty buffer defers to a short history fallback, because some
// replies arrive only as persisted messages and never stream.
func (c *Client) finishQuickLocked(epoch int64, message string) func() {
	q := c.quick
	if q == nil {
		return nil
	}
	result := message
	if result == "" {
		result = q.buffer
	}
	if result == "" {
		if q.fallback == nil {
			q.fallback = c.clock.AfterFunc(c.cfg.QuickFallbackDelay, func() {
				c.quickHistoryFallback(epoch, q)
			})
		}
		return nil
	}
	return c.resolveQuickLocked(q, result, nil)
}

func (c *Client) failQuickLocked(errText string) func() {
	q := c.quick
	if q == nil {
		return nil
	}
	if errText == "" {
		errText = "quick command failed"
	}
	return c.resolveQuickLocked(q, "", &GatewayError{Message: errText})
}

// resolveQuickLocked detaches the slot and returns a thunk the caller must
// run after releasing mu, so the callback never runs under the client lock.
func (c *Client) resolveQuickLocked(q *quickCommand, result string, err error) func() {
	if c.quick != q {
		return nil
	}
	q.stopTimers()
	c.quick = nil
	fn := q.fn
	if fn == nil {
		return nil
	}
	return func() { fn(result, err) }
}

func (c *Client) quickTimedOut(epoch int64, q *quickCommand) {
	c.mu.Lock()
	if epoch != c.epoch || c.quick != q {
		c.mu.Unlock()
		return
	}
	q.watchdog = nil
	deliver := c.resolveQuickLocked(q, "", ErrQuickCommandTimeout)
	c.mu.Unlock()
	if deliver != nil {
		deliver()
	}
}

// quickHistoryFallback fetches the tail of the transcript and treats the
// last non-user message as the reply.
func (c *Client) quickHistoryFallback(epoch int64, q *quickCommand) {
	c.mu.Lock()
	if epoch != c.epoch || c.quick != q || c.tr == nil {
		c.mu.Unlock()
		return
	}
	q.fallback = nil
	params := protocol.ChatHistoryParams{SessionKey: q.sessionKey, Limit: 5}
	_, err := c.sendRequestLocked(protocol.MethodChatHistory, params, func(res Response) {
		c.quickHistoryResult(epoch, q, res)
	})
	if err == nil {
		c.mu.Unlock()
		return
	}
	deliver := c.resolveQuickLocked(q, "", err)
	c.mu.Unlock()
	if deliver != nil {
		deliver()
	}
}

func (c *Client) quickHistoryResult(epoch int64, q *quickCommand, res Response) {
	var result string
	if res.OK {
		var history protocol.ChatHistoryResult
		if json.Unmarshal(res.Payload, &history) == nil {
			for i := len(history.Messages) - 1; i >= 0; i-- {
				if history.Messages[i].Role != "user" && history.Messages[i].Text != "" {
					result = history.Messages[i].Text
					break
				}
			}
		}
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	deliver := c.resolveQuickLocked(q, result, nil)
	c.mu.Unlock()
	if deliver != nil {
		deliver()
	}
}
