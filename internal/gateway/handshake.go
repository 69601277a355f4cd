package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/codefionn/agentbridge/internal/protocol"
)

// handshakePhase tracks handshake progress independently of the visible
// connection state, so a silent reconnect can negotiate while the state
// stays masked at grace-period.
type handshakePhase int

const (
	phaseNone handshakePhase = iota
	phaseAwaitingChallenge
	phaseHandshaking
)

// handleChallenge answers the server-initiated connect.challenge. The gateway
// speaks first; any challenge arriving outside the awaiting phase is stale
// and dropped.
func (c *Client) handleChallenge(epoch int64, frame *protocol.Frame) {
	var payload protocol.ChallengePayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.handshakeFailed(epoch, fmt.Sprintf("malformed challenge: %v", err))
			return
		}
	}

	c.mu.Lock()
	if epoch != c.epoch || c.hsPhase != phaseAwaitingChallenge {
		c.mu.Unlock()
		return
	}
	c.nonce = payload.Nonce
	c.mu.Unlock()

	// Token fetch may hit the keychain or disk, so it runs outside the lock.
	var token string
	if c.tokens != nil {
		var err error
		token, err = c.tokens.Token()
		if err != nil {
			c.handshakeFailed(epoch, fmt.Sprintf("token unavailable: %v", err))
			return
		}
	}

	c.mu.Lock()
	if epoch != c.epoch || c.hsPhase != phaseAwaitingChallenge || c.nonce != payload.Nonce {
		c.mu.Unlock()
		return
	}
	c.hsPhase = phaseHandshaking
	if c.state != StateGracePeriod {
		c.setStateLocked(StateHandshaking)
	}
	params := protocol.ConnectParams{
		MinProtocol: c.cfg.MinProtocol,
		MaxProtocol: c.cfg.MaxProtocol,
		Client:      c.cfg.Client,
		Role:        c.cfg.Role,
		Scopes:      c.cfg.Scopes,
		Caps:        c.cfg.Caps,
		Auth:        protocol.AuthParams{Token: token},
		UserAgent:   c.cfg.UserAgent,
		Locale:      c.cfg.Locale,
	}
	_, err := c.sendRequestLocked(protocol.MethodConnect, params, func(res Response) {
		c.handleConnectResult(epoch, res)
	})
	c.mu.Unlock()

	if err != nil {
		c.handshakeFailed(epoch, fmt.Sprintf("connect request failed: %v", err))
	}
}

func (c *Client) handleConnectResult(epoch int64, res Response) {
	if !res.OK {
		c.handshakeFailed(epoch, fmt.Sprintf("handshake rejected: %v", res.errOrGeneric()))
		return
	}
	c.becomeConnected(epoch)
}

// becomeConnected finishes the handshake: cancel the masking timers, start
// the session poll, and load history. The uptime anchor is only set when it
// is zero, so a silent reconnect inside the grace window keeps counting.
func (c *Client) becomeConnected(epoch int64) {
	c.mu.Lock()
	if epoch != c.epoch || c.tr == nil {
		c.mu.Unlock()
		return
	}
	wasMasked := c.state == StateGracePeriod
	c.hsPhase = phaseNone
	c.nonce = ""
	if c.hsTimer != nil {
		c.hsTimer.Stop()
		c.hsTimer = nil
	}
	c.stopSupervisorTimersLocked()
	c.setStateLocked(StateConnected)
	c.connErr = ""
	c.retry.Reset()
	if c.uptimeAnchor.IsZero() {
		c.uptimeAnchor = c.clock.Now()
	}
	c.requestHistoryLocked(epoch)
	c.pollSessionsLocked(epoch)
	c.schedulePollLocked(epoch)
	onConnected := c.onConnected
	c.mu.Unlock()

	c.publish()
	if onConnected != nil && !wasMasked {
		onConnected()
	}
	c.log.Info("gateway handshake complete")
}

// handshakeFailed aborts the current negotiation. During a grace window the
// failure stays masked and the grace timer decides visibility; otherwise it
// becomes a visible retry.
func (c *Client) handshakeFailed(epoch int64, reason string) {
	c.mu.Lock()
	if epoch != c.epoch || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.log.Warn("handshake failed: %s", reason)
	c.teardownTransportLocked()
	if c.state == StateGracePeriod {
		c.mu.Unlock()
		return
	}
	c.connErr = reason
	c.scheduleRetryLocked()
	c.mu.Unlock()
	c.publish()
}
