package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opsdeck/opsdeck-go/pkg/store"
)

// fakeRequester scripts responses per method.
type fakeRequester struct {
	mu        sync.Mutex
	connected bool
	responses map[string]json.RawMessage
	failures  map[string]error
	calls     []string
}

func (f *fakeRequester) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRequester) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if err, ok := f.failures[method]; ok {
		return nil, err
	}
	return f.responses[method], nil
}

func (f *fakeRequester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestPollCycle(t *testing.T) {
	req := &fakeRequester{
		connected: true,
		responses: map[string]json.RawMessage{
			"sessions.list": []byte(`[{"id":"s1"}]`),
			"agents.list":   []byte(`[]`),
		},
	}
	table := store.NewTable()
	p := New(Config{}, req, table, nil)

	p.poll(context.Background())

	res, ok := table.Get("sessions.list")
	if !ok || string(res.Payload) != `[{"id":"s1"}]` {
		t.Errorf("unexpected sessions.list result: %+v (ok=%v)", res, ok)
	}
	if _, ok := table.Get("agents.list"); !ok {
		t.Error("expected agents.list result")
	}
}

func TestPollSkipsWhenDisconnected(t *testing.T) {
	req := &fakeRequester{connected: false}
	table := store.NewTable()
	p := New(Config{}, req, table, nil)

	p.poll(context.Background())

	if got := req.callCount(); got != 0 {
		t.Errorf("expected no requests while disconnected, got %d", got)
	}
}

func TestPollPartialFailure(t *testing.T) {
	req := &fakeRequester{
		connected: true,
		responses: map[string]json.RawMessage{"agents.list": []byte(`[]`)},
		failures:  map[string]error{"sessions.list": errors.New("boom")},
	}
	table := store.NewTable()
	p := New(Config{}, req, table, nil)

	p.poll(context.Background())

	// The failed method must not abort the rest of the cycle.
	if _, ok := table.Get("sessions.list"); ok {
		t.Error("expected no result for the failed method")
	}
	if _, ok := table.Get("agents.list"); !ok {
		t.Error("expected the remaining method to be polled")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	req := &fakeRequester{connected: true, responses: map[string]json.RawMessage{}}
	p := New(Config{Interval: 10 * time.Millisecond}, req, store.NewTable(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Let a few cycles run, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if req.callCount() < 2 {
		t.Errorf("expected repeated cycles, got %d calls", req.callCount())
	}
}
