package store

import (
	"encoding/json"
	"sync"
	"time"
)

// DefaultEventLogCapacity bounds the event log when no capacity is given.
const DefaultEventLogCapacity = 1024

// Entry is one received gateway event. Seq is assigned on append and
// increases monotonically for the lifetime of the log, independent of
// eviction.
type Entry struct {
	Seq        uint64
	ReceivedAt time.Time
	Event      string
	Payload    json.RawMessage
}

// EventLog is a bounded ring buffer of gateway events. Appends beyond the
// capacity evict the oldest entries.
type EventLog struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int
	nextSeq uint64
	now     func() time.Time
}

// NewEventLog creates a log holding at most capacity entries.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{
		entries: make([]Entry, capacity),
		nextSeq: 1,
		now:     time.Now,
	}
}

// Append records an event and returns its sequence number.
func (l *EventLog) Append(event string, payload json.RawMessage) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.nextSeq
	l.nextSeq++

	idx := (l.start + l.count) % len(l.entries)
	l.entries[idx] = Entry{
		Seq:        seq,
		ReceivedAt: l.now(),
		Event:      event,
		Payload:    payload,
	}
	if l.count < len(l.entries) {
		l.count++
	} else {
		l.start = (l.start + 1) % len(l.entries)
	}
	return seq
}

// Len returns the number of retained entries.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Snapshot returns the retained entries in append order.
func (l *EventLog) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slice(0)
}

// Since returns the retained entries with a sequence number greater than
// seq, in append order. Passing the last seen Seq yields only new entries.
func (l *EventLog) Since(seq uint64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Entries are in seq order; skip the prefix at or below seq.
	skip := 0
	for skip < l.count {
		idx := (l.start + skip) % len(l.entries)
		if l.entries[idx].Seq > seq {
			break
		}
		skip++
	}
	return l.slice(skip)
}

// slice copies entries [skip, count) in order. Callers must hold l.mu.
func (l *EventLog) slice(skip int) []Entry {
	out := make([]Entry, 0, l.count-skip)
	for i := skip; i < l.count; i++ {
		out = append(out, l.entries[(l.start+i)%len(l.entries)])
	}
	return out
}
