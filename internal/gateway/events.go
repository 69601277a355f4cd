package gateway

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/codefionn/agentbridge/internal/protocol"
)

// dispatch is the single entry point for inbound frames. It runs on the read
// pump goroutine of the transport that produced the frame; the epoch guard in
// each handler discards anything from a transport that has been replaced.
func (c *Client) dispatch(epoch int64, data []byte) {
	frame, kind, err := protocol.Classify(data)
	if err != nil {
		c.log.Debug("dropping unreadable frame: %v", err)
		return
	}
	switch kind {
	case protocol.KindPing:
		c.sendPong(epoch)
	case protocol.KindPong:
		// Replies are not tracked; liveness rides on write failures.
	case protocol.KindRes:
		c.handleResponse(epoch, frame)
	case protocol.KindEvent:
		c.handleEvent(epoch, frame)
	case protocol.KindReq:
		c.log.Debug("ignoring gateway-initiated request %q", frame.Method)
	}
}

func (c *Client) sendPong(epoch int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.tr == nil {
		return
	}
	data, err := protocol.Encode(protocol.NewPong())
	if err != nil {
		return
	}
	c.tr.enqueue(data)
}

func (c *Client) handleEvent(epoch int64, frame *protocol.Frame) {
	switch frame.Event {
	case protocol.EventChallenge:
		c.handleChallenge(epoch, frame)
	case protocol.EventChat:
		c.handleChatEvent(epoch, frame)
	case protocol.EventSessionStatus:
		c.handleSessionStatus(epoch, frame)
	case protocol.EventAgentStarted, protocol.EventAgentCompleted:
		c.handleAgentEvent(epoch, frame)
	default:
		c.log.Debug("ignoring event %q", frame.Event)
	}
}

// handleChatEvent applies one chat lifecycle event. Deltas carry the full
// accumulated text, not an increment, so rendering replaces rather than
// appends; identical consecutive deltas are deduplicated by hash.
func (c *Client) handleChatEvent(epoch int64, frame *protocol.Frame) {
	var payload protocol.ChatEventPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.log.Debug("malformed chat event: %v", err)
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}

	// An in-flight quick command owns the chat stream. Gateways do not
	// reliably tag chat events with a session key, so an absent key still
	// routes to the slot; a present key acts as an extra filter.
	quickOwned := c.quick != nil &&
		(payload.SessionKey == "" || payload.SessionKey == c.quick.sessionKey)
	var deliver func()

	switch payload.State {
	case protocol.ChatStateDelta:
		if quickOwned {
			c.quick.buffer = payload.Message
			c.mu.Unlock()
			return
		}
		h := xxhash.Sum64String(payload.Message)
		if h == c.deltaHash {
			c.mu.Unlock()
			return
		}
		c.deltaHash = h
		c.thinking = true
		c.thinkingText = payload.Message

	case protocol.ChatStateFinal:
		if quickOwned {
			deliver = c.finishQuickLocked(epoch, payload.Message)
		} else {
			c.clearStreamingLocked()
			c.requestHistoryLocked(epoch)
			c.pollSessionsLocked(epoch)
		}

	case protocol.ChatStateError:
		if quickOwned {
			deliver = c.failQuickLocked(payload.Error)
		} else {
			c.clearStreamingLocked()
			text := payload.Error
			if text == "" {
				text = "The agent reported an error."
			}
			c.appendSystemMessageLocked("Error: " + text)
		}

	case protocol.ChatStateAborted:
		if quickOwned {
			deliver = c.failQuickLocked("aborted")
		} else {
			c.clearStreamingLocked()
			c.appendSystemMessageLocked("[Response aborted]")
		}

	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if deliver != nil {
		deliver()
	}
	if !quickOwned {
		c.publish()
	}
}

func (c *Client) appendSystemMessageLocked(text string) {
	c.messages = append(c.messages, ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		FromUser:  false,
		Timestamp: c.clock.Now(),
	})
}

// requestHistoryLocked asks for the recent transcript and replaces the local
// copy wholesale when the response lands.
func (c *Client) requestHistoryLocked(epoch int64) {
	params := protocol.ChatHistoryParams{
		SessionKey: c.cfg.SessionKey,
		Limit:      c.cfg.HistoryLimit,
	}
	_, err := c.sendRequestLocked(protocol.MethodChatHistory, params, func(res Response) {
		c.applyHistory(epoch, res)
	})
	if err != nil {
		c.log.Warn("history request failed: %v", err)
	}
}

func (c *Client) applyHistory(epoch int64, res Response) {
	if !res.OK {
		c.log.Warn("history load rejected: %v", res.errOrGeneric())
		return
	}
	var result protocol.ChatHistoryResult
	if err := json.Unmarshal(res.Payload, &result); err != nil {
		c.log.Warn("malformed history payload: %v", err)
		return
	}

	msgs := make([]ChatMessage, 0, len(result.Messages))
	for _, m := range result.Messages {
		if m.Text == "" && m.ImageURL == "" {
			continue
		}
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		msgs = append(msgs, ChatMessage{
			ID:        id,
			Text:      m.Text,
			FromUser:  m.Role == "user",
			Timestamp: time.UnixMilli(m.Timestamp),
			ImageURL:  m.ImageURL,
		})
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.messages = msgs
	c.mu.Unlock()
	c.publish()
}

func (c *Client) handleAgentEvent(epoch int64, frame *protocol.Frame) {
	var payload protocol.AgentLifecyclePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.log.Debug("malformed agent event: %v", err)
		return
	}
	if payload.ID == "" {
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if frame.Event == protocol.EventAgentStarted {
		c.agents[payload.ID] = AgentInfo{
			ID:     payload.ID,
			Name:   payload.Name,
			Status: payload.Status,
			Model:  payload.Model,
		}
	} else {
		delete(c.agents, payload.ID)
	}
	c.mu.Unlock()
	c.publish()
}
