package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opsdeck/opsdeck-go/pkg/identity"
	"github.com/opsdeck/opsdeck-go/pkg/log"
	"github.com/opsdeck/opsdeck-go/pkg/token"
	"github.com/opsdeck/opsdeck-go/pkg/wire"
)

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrMissingNonce     = errors.New("no challenge nonce received")
)

// RequestError is a gateway-reported request failure.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Default timing configuration.
const (
	// DefaultReconnectDelay is the fixed interval between reconnect
	// attempts. The delay does not back off.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultDialTimeout bounds the websocket dial and upgrade.
	DefaultDialTimeout = 10 * time.Second
)

// Config configures a gateway connection.
type Config struct {
	// URL is the gateway's websocket endpoint.
	URL string

	// Role and Scopes are requested during the handshake.
	Role   string
	Scopes []string

	// AuthToken is an optional pre-shared bearer secret, independent of the
	// device token issued by the gateway.
	AuthToken string

	// Client metadata sent with the handshake.
	ClientID      string
	ClientVersion string
	ClientMode    string
	UserAgent     string
	Locale        string

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay time.Duration

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
}

// result is the settled outcome of a pending request.
type result struct {
	payload json.RawMessage
	err     error
}

// Connection is an authenticated client connection to the gateway.
// One instance manages one logical connection across reconnects.
type Connection struct {
	config   Config
	identity *identity.DeviceIdentity
	tokens   *token.Store
	handler  Handler
	logger   log.Logger

	mu             sync.Mutex
	state          ConnState
	conn           *websocket.Conn
	connID         string
	gen            int
	dialing        bool
	stopped        bool
	pending        map[string]chan result
	handshakeSent  bool
	challengeNonce string
	reconnectTimer *time.Timer

	// stopCtx is cancelled by Stop so internal requests (the handshake)
	// unblock instead of waiting on an abandoned pending slot.
	stopCtx    context.Context
	stopCancel context.CancelFunc

	// writeMu serializes data writes to the websocket.
	writeMu sync.Mutex

	// cbMu serializes handler callbacks so Stop can wait out an in-flight
	// callback before returning.
	cbMu sync.Mutex
}

// New creates a connection. The identity must already be loaded; the token
// store is consulted during handshakes and updated when the gateway issues
// a device token. logger may be nil to disable tracing.
func New(config Config, id *identity.DeviceIdentity, tokens *token.Store, handler Handler, logger log.Logger) *Connection {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}

	c := &Connection{
		config:   config,
		identity: id,
		tokens:   tokens,
		handler:  handler,
		logger:   logger,
		state:    StateDisconnected,
		pending:  make(map[string]chan result),
	}
	c.stopCtx, c.stopCancel = context.WithCancel(context.Background())
	return c
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected returns true when the handshake has completed.
func (c *Connection) Connected() bool {
	return c.State() == StateConnected
}

// Start opens the transport if it is not already open. Idempotent.
func (c *Connection) Start() {
	c.mu.Lock()
	c.stopped = false
	if c.stopCtx.Err() != nil {
		c.stopCtx, c.stopCancel = context.WithCancel(context.Background())
	}
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.dialing = true
	gen := c.gen
	c.mu.Unlock()

	go c.connect(gen)
}

// Stop closes the transport and cancels any pending reconnect. Idempotent.
// In-flight requests are abandoned, not failed: the caller is assumed to be
// shutting down. An in-flight handshake is cancelled so its goroutine
// exits. After Stop returns, no further reconnect attempts are made and no
// further handler callbacks are invoked.
func (c *Connection) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.stopCancel()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.pending = make(map[string]chan result)
	c.handshakeSent = false
	c.challengeNonce = ""
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	// Barrier: an in-flight handler callback completes before Stop returns,
	// and the stopped flag prevents new ones from starting.
	c.cbMu.Lock()
	c.cbMu.Unlock()
}

// Request sends a request over the connection and waits for the matching
// response. It fails immediately with ErrNotConnected when the transport is
// not open; requests are never queued. In-flight requests fail when the
// connection closes and are never retried.
func (c *Connection) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.request(ctx, nil, method, params)
}

// request is Request pinned to a specific transport: when want is non-nil
// and the current connection is no longer want, the request is refused.
// The handshake uses this so a connect signed for one connection can never
// go out on its successor.
func (c *Connection) request(ctx context.Context, want *websocket.Conn, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.stopped || (want != nil && conn != want) {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan result, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := wire.EncodeRequest(&wire.Request{ID: id, Method: method, Params: params})
	if err != nil {
		c.removePending(id)
		return nil, err
	}

	c.traceEnvelope(log.DirectionOut, &log.EnvelopeEvent{
		Kind:          wire.TypeRequest,
		CorrelationID: id,
		Method:        method,
		Size:          len(data),
	})

	if err := c.send(conn, data); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("send failed: %w", err)
	}

	select {
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case res := <-ch:
		return res.payload, res.err
	}
}

// connect performs one connection attempt. gen identifies the attempt; a
// bumped generation means Stop or a close already superseded it.
func (c *Connection) connect(gen int) {
	c.mu.Lock()
	if c.stopped || c.gen != gen {
		c.dialing = false
		c.mu.Unlock()
		return
	}
	url := c.config.URL
	timeout := c.config.DialTimeout
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		stale := c.stopped || c.gen != gen
		if !stale {
			c.armReconnect()
		}
		c.mu.Unlock()

		if !stale {
			c.traceError(err.Error(), "dial")
			c.emitStatus(Status{Phase: StateDisconnected, Err: fmt.Errorf("dial failed: %w", err)})
		}
		return
	}

	c.mu.Lock()
	if c.stopped || c.gen != gen {
		c.dialing = false
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.dialing = false
	c.conn = conn
	c.connID = uuid.NewString()
	c.handshakeSent = false
	c.challengeNonce = ""
	c.state = StateAwaitingChallenge
	c.mu.Unlock()

	c.traceState(StateDisconnected, StateAwaitingChallenge, "", 0)
	c.emitStatus(Status{Phase: StateAwaitingChallenge})

	go c.readLoop(conn, gen)
}

// readLoop reads messages until the transport closes.
func (c *Connection) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			c.handleClose(gen, code, reason)
			return
		}
		c.dispatch(conn, gen, data)
	}
}

// dispatch routes one inbound message. Malformed messages are dropped.
func (c *Connection) dispatch(conn *websocket.Conn, gen int, data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		c.traceError(err.Error(), "decode")
		return
	}

	switch {
	case env.Response != nil:
		res := env.Response
		c.traceEnvelope(log.DirectionIn, &log.EnvelopeEvent{
			Kind:          wire.TypeResponse,
			CorrelationID: res.ID,
			OK:            &res.OK,
			Size:          len(data),
		})
		c.settle(res)

	case env.Event != nil:
		ev := env.Event
		c.traceEnvelope(log.DirectionIn, &log.EnvelopeEvent{
			Kind:      wire.TypeEvent,
			EventName: ev.Event,
			Size:      len(data),
		})
		if ev.Event == wire.EventChallenge {
			c.handleChallenge(conn, gen, ev.Payload)
			return
		}
		c.emitEvent(ev)
	}
}

// settle resolves the pending request matching the response id.
// Unmatched ids are duplicate or stale responses and are dropped.
func (c *Connection) settle(res *wire.Response) {
	c.mu.Lock()
	ch, ok := c.pending[res.ID]
	if ok {
		delete(c.pending, res.ID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if res.OK {
		ch <- result{payload: res.Payload}
	} else {
		ch <- result{err: &RequestError{Message: res.ErrMessage()}}
	}
}

// handleClose runs once per transport close: it fails every pending
// request, resets per-connection state and arms the reconnect timer.
func (c *Connection) handleClose(gen int, code int, reason string) {
	c.mu.Lock()
	if c.gen != gen {
		// Stop or a newer attempt already took over.
		c.mu.Unlock()
		return
	}
	c.gen++
	c.conn = nil
	c.handshakeSent = false
	c.challengeNonce = ""
	oldState := c.state
	c.state = StateDisconnected
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.armReconnect()
	c.mu.Unlock()

	err := fmt.Errorf("%w (code %d): %s", ErrConnectionClosed, code, reason)
	for _, ch := range pending {
		ch <- result{err: err}
	}

	c.traceState(oldState, StateDisconnected, reason, code)
	c.emitStatus(Status{Phase: StateDisconnected, Err: err, Code: code, Reason: reason})
}

// armReconnect schedules a reconnect attempt. Duplicate arming is
// suppressed: at most one timer exists at a time. The delay is a fixed
// interval; it intentionally does not back off.
// Callers must hold c.mu.
func (c *Connection) armReconnect() {
	if c.reconnectTimer != nil || c.stopped {
		return
	}
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, c.reconnectNow)
}

// reconnectNow is the reconnect timer callback.
func (c *Connection) reconnectNow() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if c.stopped || c.conn != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	gen := c.gen
	c.mu.Unlock()

	c.connect(gen)
}

// send writes one data message to the websocket.
func (c *Connection) send(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// closeWithCode sends a close frame with the given code, then closes the
// underlying connection. The read loop observes the close and drives the
// usual close handling.
func (c *Connection) closeWithCode(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}

// removePending drops a pending entry without settling it.
func (c *Connection) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// closeDetails extracts the close code and reason from a read error.
func closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// emitStatus delivers a status callback unless the connection is stopped.
func (c *Connection) emitStatus(status Status) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped || c.handler == nil {
		return
	}
	c.handler.OnStatus(status)
}

// emitEvent forwards an inbound event unless the connection is stopped.
func (c *Connection) emitEvent(ev *wire.Event) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped || c.handler == nil {
		return
	}
	c.handler.OnEvent(ev)
}

// traceEnvelope records an envelope crossing the connection.
func (c *Connection) traceEnvelope(dir log.Direction, env *log.EnvelopeEvent) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.currentConnID(),
		Direction:    dir,
		Category:     log.CategoryEnvelope,
		GatewayURL:   c.config.URL,
		DeviceID:     c.identity.DeviceID,
		Envelope:     env,
	})
}

// traceState records a state transition.
func (c *Connection) traceState(oldState, newState ConnState, reason string, code int) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.currentConnID(),
		Category:     log.CategoryState,
		GatewayURL:   c.config.URL,
		DeviceID:     c.identity.DeviceID,
		StateChange: &log.StateChangeEvent{
			OldState:  oldState.String(),
			NewState:  newState.String(),
			Reason:    reason,
			CloseCode: code,
		},
	})
}

// traceError records an error event.
func (c *Connection) traceError(msg, context string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.currentConnID(),
		Category:     log.CategoryError,
		GatewayURL:   c.config.URL,
		DeviceID:     c.identity.DeviceID,
		Error:        &log.ErrorEventData{Message: msg, Context: context},
	})
}

func (c *Connection) currentConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}
