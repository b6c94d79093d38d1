// Package gatewaytest provides a scripted in-process gateway for tests.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/opsdeck/opsdeck-go/pkg/wire"
)

// Server is a fake gateway. It accepts one websocket client at a time,
// issues a challenge, answers the connect request and then delegates further
// requests to OnRequest. The zero behavior accepts every handshake.
type Server struct {
	// Nonce is the challenge nonce. Defaults to "test-nonce".
	Nonce string

	// SkipChallenge suppresses the challenge event after the upgrade.
	SkipChallenge bool

	// RejectConnect makes the connect request fail with this message.
	RejectConnect string

	// HoldConnect records connect attempts but never answers them.
	HoldConnect bool

	// DeviceToken and GrantScopes populate the connect response auth block.
	DeviceToken string
	GrantScopes []string

	// OnRequest handles non-connect requests. A nil handler answers every
	// request with ok and a null payload.
	OnRequest func(req *wire.Request) *wire.Response

	httpSrv  *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	connects []wire.ConnectParams
	closes   []closeInfo

	// writeMu serializes writes; tests may push events while the read loop
	// is answering a request.
	writeMu sync.Mutex
}

type closeInfo struct {
	code   int
	reason string
}

// Start brings the server up. Callers must call Close when done.
func (s *Server) Start() {
	if s.Nonce == "" {
		s.Nonce = "test-nonce"
	}
	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.serve))
}

// URL returns the ws:// endpoint clients should dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http")
}

// Close shuts the server down.
func (s *Server) Close() {
	s.DropClient()
	s.httpSrv.Close()
}

// DropClient closes the current client connection, if any.
func (s *Server) DropClient() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// SendEvent pushes an event to the connected client.
func (s *Server) SendEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.writeJSON(&wire.Event{Type: wire.TypeEvent, Event: name, Payload: data})
}

// SendChallenge re-issues the challenge event.
func (s *Server) SendChallenge() error {
	return s.SendEvent(wire.EventChallenge, wire.ChallengePayload{Nonce: s.Nonce})
}

// SendResponse pushes a response envelope to the connected client, matched
// or not. Tests use it to inject stray responses.
func (s *Server) SendResponse(res *wire.Response) error {
	res.Type = wire.TypeResponse
	return s.writeJSON(res)
}

// ConnectAttempts returns the connect params received so far.
func (s *Server) ConnectAttempts() []wire.ConnectParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.ConnectParams, len(s.connects))
	copy(out, s.connects)
	return out
}

// LastClose returns the most recent close frame received from a client.
func (s *Server) LastClose() (code int, reason string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.closes) == 0 {
		return 0, "", false
	}
	last := s.closes[len(s.closes)-1]
	return last.code, last.reason, true
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetCloseHandler(func(code int, text string) error {
		s.mu.Lock()
		s.closes = append(s.closes, closeInfo{code: code, reason: text})
		s.mu.Unlock()
		return nil
	})

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if !s.SkipChallenge {
		if err := s.SendChallenge(); err != nil {
			return
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req wire.Request
		if err := json.Unmarshal(data, &req); err != nil || req.Type != wire.TypeRequest {
			continue
		}
		res := s.handle(&req)
		if res != nil {
			_ = s.writeJSON(res)
		}
	}
}

func (s *Server) handle(req *wire.Request) *wire.Response {
	if req.Method == wire.MethodConnect {
		return s.handleConnect(req)
	}
	if s.OnRequest != nil {
		return s.OnRequest(req)
	}
	return &wire.Response{Type: wire.TypeResponse, ID: req.ID, OK: true}
}

func (s *Server) handleConnect(req *wire.Request) *wire.Response {
	var params wire.ConnectParams
	raw, _ := json.Marshal(req.Params)
	_ = json.Unmarshal(raw, &params)

	s.mu.Lock()
	s.connects = append(s.connects, params)
	s.mu.Unlock()

	if s.HoldConnect {
		return nil
	}
	if s.RejectConnect != "" {
		return &wire.Response{
			Type:  wire.TypeResponse,
			ID:    req.ID,
			OK:    false,
			Error: &wire.ErrorInfo{Message: s.RejectConnect},
		}
	}

	res := wire.ConnectResult{}
	if s.DeviceToken != "" {
		res.Auth = &wire.GrantedAuth{DeviceToken: s.DeviceToken, Scopes: s.GrantScopes}
	}
	payload, _ := json.Marshal(res)
	return &wire.Response{Type: wire.TypeResponse, ID: req.ID, OK: true, Payload: payload}
}

func (s *Server) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
