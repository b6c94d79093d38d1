package store

import (
	"encoding/json"
	"sync"
	"time"
)

// Result is the latest payload fetched for one list method.
type Result struct {
	Method    string
	Payload   json.RawMessage
	FetchedAt time.Time
}

// Table holds the most recent result of each polled list method.
type Table struct {
	mu      sync.RWMutex
	results map[string]Result
	now     func() time.Time
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		results: make(map[string]Result),
		now:     time.Now,
	}
}

// Set stores the latest payload for a method, stamping the fetch time.
func (t *Table) Set(method string, payload json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[method] = Result{
		Method:    method,
		Payload:   payload,
		FetchedAt: t.now(),
	}
}

// Get returns the latest result for a method.
func (t *Table) Get(method string) (Result, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res, ok := t.results[method]
	return res, ok
}

// Methods returns the methods with a stored result.
func (t *Table) Methods() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.results))
	for m := range t.results {
		out = append(out, m)
	}
	return out
}
