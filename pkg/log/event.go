package log

import (
	"time"
)

// Event represents one observable moment of gateway connection activity.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection attempt (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow for envelope events.
	Direction Direction `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// GatewayURL is the remote endpoint.
	GatewayURL string `cbor:"5,keyasint,omitempty"`

	// DeviceID is the local device identity fingerprint.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Envelope    *EnvelopeEvent    `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryEnvelope indicates a wire envelope (req/res/event).
	CategoryEnvelope Category = 0
	// CategoryState indicates a connection state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryEnvelope:
		return "ENVELOPE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// EnvelopeEvent captures a wire envelope crossing the connection.
type EnvelopeEvent struct {
	// Kind is the envelope type discriminator ("req", "res", "event").
	Kind string `cbor:"1,keyasint"`

	// CorrelationID is the request/response id (empty for events).
	CorrelationID string `cbor:"2,keyasint,omitempty"`

	// Method is the request method (requests only).
	Method string `cbor:"3,keyasint,omitempty"`

	// EventName is the event name (event envelopes only).
	EventName string `cbor:"4,keyasint,omitempty"`

	// OK is the response outcome (responses only).
	OK *bool `cbor:"5,keyasint,omitempty"`

	// Size is the serialized envelope size in bytes.
	Size int `cbor:"6,keyasint,omitempty"`
}

// StateChangeEvent captures a connection state transition.
type StateChangeEvent struct {
	// OldState is the previous state name (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state name.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`

	// CloseCode is the transport close code for disconnects.
	CloseCode int `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}
