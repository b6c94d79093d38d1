package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	ok := true
	events := []Event{
		{
			Timestamp:    time.Now(),
			ConnectionID: "conn1",
			Category:     CategoryState,
			StateChange:  &StateChangeEvent{NewState: "AWAITING_CHALLENGE"},
		},
		{
			Timestamp:    time.Now(),
			ConnectionID: "conn1",
			Direction:    DirectionOut,
			Category:     CategoryEnvelope,
			Envelope:     &EnvelopeEvent{Kind: "req", CorrelationID: "r1", Method: "connect", Size: 321},
		},
		{
			Timestamp:    time.Now(),
			ConnectionID: "conn1",
			Direction:    DirectionIn,
			Category:     CategoryEnvelope,
			Envelope:     &EnvelopeEvent{Kind: "res", CorrelationID: "r1", OK: &ok},
		},
	}
	for _, ev := range events {
		logger.Log(ev)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Logging after close is silently ignored.
	logger.Log(Event{ConnectionID: "late"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close errored: %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var got []Event
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, ev)
	}

	if len(got) != len(events) {
		t.Fatalf("read %d events, want %d", len(got), len(events))
	}
	if got[1].Envelope == nil || got[1].Envelope.Method != "connect" {
		t.Errorf("envelope event not preserved: %+v", got[1])
	}
	if got[2].Envelope == nil || got[2].Envelope.OK == nil || !*got[2].Envelope.OK {
		t.Errorf("response outcome not preserved: %+v", got[2])
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	ev := Event{
		Timestamp:    time.Date(2026, 2, 3, 12, 0, 0, 12345, time.UTC),
		ConnectionID: "c1",
		Category:     CategoryError,
		Error:        &ErrorEventData{Message: "dial failed", Context: "connect"},
	}

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if decoded.ConnectionID != ev.ConnectionID {
		t.Errorf("ConnectionID = %q, want %q", decoded.ConnectionID, ev.ConnectionID)
	}
	if decoded.Error == nil || decoded.Error.Message != "dial failed" {
		t.Errorf("error payload not preserved: %+v", decoded.Error)
	}
	if !decoded.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, ev.Timestamp)
	}
}
