package opsdeck_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opsdeck/opsdeck-go/internal/gatewaytest"
	"github.com/opsdeck/opsdeck-go/pkg/gateway"
	"github.com/opsdeck/opsdeck-go/pkg/identity"
	"github.com/opsdeck/opsdeck-go/pkg/poller"
	"github.com/opsdeck/opsdeck-go/pkg/store"
	"github.com/opsdeck/opsdeck-go/pkg/token"
	"github.com/opsdeck/opsdeck-go/pkg/wire"
)

// consoleHandler mirrors events into the store the way the daemon does.
type consoleHandler struct {
	events   *store.EventLog
	statuses chan gateway.Status
}

func (h *consoleHandler) OnStatus(status gateway.Status) {
	h.statuses <- status
}

func (h *consoleHandler) OnEvent(event *wire.Event) {
	h.events.Append(event.Event, event.Payload)
}

func (h *consoleHandler) waitConnected(t *testing.T) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-h.statuses:
			if s.Connected {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the connection")
		}
	}
}

// TestConsoleEndToEnd drives the whole console pipeline against a fake
// gateway: persistent identity, handshake with token issue, event
// mirroring, one poll cycle, and a reconnect that reuses the stored token.
func TestConsoleEndToEnd(t *testing.T) {
	srv := &gatewaytest.Server{
		DeviceToken: "issued-token",
		GrantScopes: []string{"operator.read"},
		OnRequest: func(req *wire.Request) *wire.Response {
			payload, _ := json.Marshal([]map[string]string{{"id": "s1"}})
			return &wire.Response{Type: wire.TypeResponse, ID: req.ID, OK: true, Payload: payload}
		},
	}
	srv.Start()
	defer srv.Close()

	dataDir := t.TempDir()
	id, err := identity.NewStore(dataDir).LoadOrCreate()
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	tokens := token.NewStore(dataDir)

	events := store.NewEventLog(64)
	table := store.NewTable()
	handler := &consoleHandler{events: events, statuses: make(chan gateway.Status, 64)}

	conn := gateway.New(gateway.Config{
		URL:            srv.URL(),
		Role:           "operator",
		Scopes:         []string{"operator.read"},
		ClientID:       "console-test",
		ClientMode:     "observer",
		ReconnectDelay: 30 * time.Millisecond,
	}, id, tokens, handler, nil)
	defer conn.Stop()

	conn.Start()
	handler.waitConnected(t)

	// Identity survives a reload and keeps the same device id.
	reloaded, err := identity.NewStore(dataDir).LoadOrCreate()
	if err != nil {
		t.Fatalf("reload identity: %v", err)
	}
	if reloaded.DeviceID != id.DeviceID {
		t.Errorf("device id changed across reload: %s != %s", reloaded.DeviceID, id.DeviceID)
	}

	// The issued device token is persisted.
	if tok, ok := tokens.Load(id.DeviceID, "operator"); !ok || tok != "issued-token" {
		t.Errorf("expected stored token issued-token, got %q (ok=%v)", tok, ok)
	}

	// Gateway events land in the event log.
	if err := srv.SendEvent("sessions.updated", map[string]int{"count": 1}); err != nil {
		t.Fatalf("send event: %v", err)
	}
	waitFor(t, func() bool { return events.Len() == 1 }, "event to be mirrored")

	// One poll cycle fills the table.
	p := poller.New(poller.Config{
		Interval: 20 * time.Millisecond,
		Methods:  []string{"sessions.list"},
	}, conn, table, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	waitFor(t, func() bool {
		_, ok := table.Get("sessions.list")
		return ok
	}, "poll result")
	cancel()

	// Sever the transport; the console reconnects and presents the stored
	// device token on the second handshake.
	srv.DropClient()
	handler.waitConnected(t)

	attempts := srv.ConnectAttempts()
	if len(attempts) < 2 {
		t.Fatalf("expected a reconnect handshake, got %d attempts", len(attempts))
	}
	last := attempts[len(attempts)-1]
	if last.Auth == nil || last.Auth.DeviceToken != "issued-token" {
		t.Error("expected the stored device token on the reconnect handshake")
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
