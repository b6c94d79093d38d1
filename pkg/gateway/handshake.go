package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsdeck/opsdeck-go/pkg/wire"
)

// handleChallenge captures the challenge nonce and triggers the handshake.
// A guard flag ensures at most one handshake per connection attempt, even
// if the gateway re-issues the challenge.
func (c *Connection) handleChallenge(conn *websocket.Conn, gen int, payload json.RawMessage) {
	nonce, err := wire.DecodeChallenge(payload)
	if err != nil {
		c.traceError(err.Error(), "challenge")
		return
	}

	c.mu.Lock()
	if c.stopped || c.gen != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	if c.handshakeSent {
		c.mu.Unlock()
		return
	}
	c.challengeNonce = nonce
	c.handshakeSent = true
	c.state = StateAuthenticating
	c.mu.Unlock()

	c.traceState(StateAwaitingChallenge, StateAuthenticating, "", 0)
	c.emitStatus(Status{Phase: StateAuthenticating})

	go c.sendHandshake(conn, gen)
}

// sendHandshake signs the canonical connect payload and performs the
// connect request. It runs outside the dispatch loop so the loop stays free
// to deliver the response.
func (c *Connection) sendHandshake(conn *websocket.Conn, gen int) {
	c.mu.Lock()
	nonce := c.challengeNonce
	ctx := c.stopCtx
	c.mu.Unlock()

	if nonce == "" {
		// No challenge was ever observed: protocol version skew. Fail
		// locally without contacting the gateway.
		c.traceError(ErrMissingNonce.Error(), "handshake")
		c.emitStatus(Status{Phase: StateDisconnected, Err: ErrMissingNonce})
		c.closeWithCode(conn, wire.CloseHandshakeFailed, wire.CloseReasonHandshakeFailed)
		return
	}

	params := c.buildConnectParams(nonce, time.Now().UnixMilli())

	payload, err := c.request(ctx, conn, wire.MethodConnect, params)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrNotConnected) {
			// Stopped, or the transport was replaced before the request
			// went out. The successor connection runs its own handshake.
			return
		}
		c.traceError(err.Error(), "handshake")
		c.emitStatus(Status{
			Phase:  StateDisconnected,
			Err:    fmt.Errorf("handshake rejected: %w", err),
			Code:   wire.CloseHandshakeFailed,
			Reason: wire.CloseReasonHandshakeFailed,
		})
		c.closeWithCode(conn, wire.CloseHandshakeFailed, wire.CloseReasonHandshakeFailed)
		return
	}

	var res wire.ConnectResult
	if len(payload) > 0 {
		// A successful response with an unreadable payload still counts as
		// connected; there is just no token to persist.
		_ = json.Unmarshal(payload, &res)
	}

	c.mu.Lock()
	if c.stopped || c.gen != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	oldState := c.state
	c.state = StateConnected
	c.challengeNonce = ""
	c.mu.Unlock()

	if res.Auth != nil && res.Auth.DeviceToken != "" && c.tokens != nil {
		scopes := res.Auth.Scopes
		if len(scopes) == 0 {
			scopes = c.config.Scopes
		}
		// Store failures are not fatal; the gateway re-issues on the next
		// handshake.
		_ = c.tokens.Save(c.identity.DeviceID, c.config.Role, res.Auth.DeviceToken, scopes)
	}

	c.traceState(oldState, StateConnected, "", 0)
	c.emitStatus(Status{Connected: true, Phase: StateConnected})
}

// buildConnectParams assembles and signs the connect request params.
// Signing is CPU-bound and runs outside any lock.
func (c *Connection) buildConnectParams(nonce string, signedAtMs int64) *wire.ConnectParams {
	cfg := c.config
	bearer := cfg.AuthToken

	canonical := wire.CanonicalConnectPayload(wire.MaxProtocolVersion, c.identity.DeviceID,
		cfg.ClientID, cfg.ClientMode, cfg.Role, cfg.Scopes, signedAtMs, bearer, nonce)
	signature := c.identity.Sign(canonical)

	params := &wire.ConnectParams{
		MinProtocol: wire.MinProtocolVersion,
		MaxProtocol: wire.MaxProtocolVersion,
		Client: wire.ClientInfo{
			ID:       cfg.ClientID,
			Version:  cfg.ClientVersion,
			Platform: runtime.GOOS,
			Mode:     cfg.ClientMode,
		},
		Role:   cfg.Role,
		Scopes: cfg.Scopes,
		Device: &wire.DeviceAuth{
			ID:        c.identity.DeviceID,
			PublicKey: c.identity.PublicKeyB64(),
			Signature: signature,
			SignedAt:  signedAtMs,
			Nonce:     nonce,
		},
		Caps:      []string{},
		UserAgent: cfg.UserAgent,
		Locale:    cfg.Locale,
	}

	auth := &wire.AuthInfo{Token: bearer}
	if c.tokens != nil {
		if stored, ok := c.tokens.Load(c.identity.DeviceID, cfg.Role); ok {
			auth.DeviceToken = stored
		}
	}
	if auth.Token != "" || auth.DeviceToken != "" {
		params.Auth = auth
	}

	return params
}
