package gateway

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/codefionn/agentbridge/internal/protocol"
)

// pollSessionsLocked fires one sessions.list request. The roster is replaced
// wholesale when the response lands; a failed poll keeps the previous roster.
func (c *Client) pollSessionsLocked(epoch int64) {
	params := protocol.SessionsListParams{
		ActiveMinutes: c.cfg.SessionsActiveMinutes,
		Limit:         c.cfg.SessionsLimit,
		MessageLimit:  c.cfg.SessionsMessageLimit,
	}
	_, err := c.sendRequestLocked(protocol.MethodSessionsList, params, func(res Response) {
		c.applySessions(epoch, res)
	})
	if err != nil {
		c.log.Debug("session poll skipped: %v", err)
	}
}

// schedulePollLocked arms the next poll tick. Each tick re-arms itself, so
// the chain dies naturally when the epoch moves on.
func (c *Client) schedulePollLocked(epoch int64) {
	c.pollTimer = c.clock.AfterFunc(c.cfg.PollInterval, func() {
		c.mu.Lock()
		if epoch != c.epoch || c.tr == nil {
			c.mu.Unlock()
			return
		}
		c.pollSessionsLocked(epoch)
		c.schedulePollLocked(epoch)
		c.mu.Unlock()
	})
}

func (c *Client) applySessions(epoch int64, res Response) {
	if !res.OK {
		c.log.Debug("session poll rejected: %v", res.errOrGeneric())
		return
	}
	var result protocol.SessionsListResult
	if err := json.Unmarshal(res.Payload, &result); err != nil {
		c.log.Warn("malformed sessions payload: %v", err)
		return
	}

	sessions := make([]ActiveSession, 0, len(result.Sessions))
	for _, s := range result.Sessions {
		sessions = append(sessions, ActiveSession{
			Key:         s.Key,
			Model:       s.Model,
			Label:       s.Label,
			UpdatedAt:   time.UnixMilli(s.UpdatedAt),
			LastMessage: s.LastMessage,
			Kind:        ClassifySessionKind(s.Key),
			TotalTokens: s.TotalTokens,
		})
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.sessions = sessions
	c.mu.Unlock()
	c.publish()
}

// handleSessionStatus merges a status event field by field. Absent fields
// leave current values alone; present-but-empty fields clear them.
func (c *Client) handleSessionStatus(epoch int64, frame *protocol.Frame) {
	var payload protocol.SessionStatusPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.log.Debug("malformed session status: %v", err)
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if payload.Task != nil {
		c.task = *payload.Task
	}
	if payload.Model != nil {
		c.model = *payload.Model
	}
	if payload.UptimeSec != nil && *payload.UptimeSec >= 0 {
		// The gateway's own uptime wins over the local anchor.
		c.uptimeAnchor = c.clock.Now().Add(-time.Duration(*payload.UptimeSec) * time.Second)
	}
	if payload.Agents != nil {
		c.agents = make(map[string]AgentInfo, len(payload.Agents))
		for _, a := range payload.Agents {
			if a.ID == "" {
				continue
			}
			c.agents[a.ID] = AgentInfo{ID: a.ID, Name: a.Name, Status: a.Status, Model: a.Model}
		}
	}
	c.mu.Unlock()
	c.publish()
}
