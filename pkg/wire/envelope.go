package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope type discriminators.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Envelope errors.
var (
	ErrUnknownType   = errors.New("unknown envelope type")
	ErrMissingID     = errors.New("missing envelope id")
	ErrMissingMethod = errors.New("missing request method")
	ErrNotJSONObject = errors.New("envelope is not a JSON object")
)

// Request is an outgoing request envelope. The ID is a client-generated
// correlation id; the matching Response carries the same ID.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Validate checks that the request is well-formed for sending.
func (r *Request) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

// Response is an inbound response envelope correlated to a Request by ID.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo carries the gateway-reported failure for a rejected request.
type ErrorInfo struct {
	Message string `json:"message"`
}

// ErrMessage returns the carried error message, or a generic fallback when
// the gateway omitted one.
func (r *Response) ErrMessage() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return "request failed"
}

// Event is an inbound event envelope. Events are not correlated to requests.
type Event struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is a decoded inbound message. Exactly one of Response or Event
// is non-nil.
type Envelope struct {
	Response *Response
	Event    *Event
}

// EncodeRequest validates and serializes a request envelope. The Type field
// is filled in; callers only set ID, Method and Params.
func EncodeRequest(req *Request) ([]byte, error) {
	req.Type = TypeRequest
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return json.Marshal(req)
}

// DecodeEnvelope decodes an inbound message into a Response or Event.
// Messages with an unknown type discriminator return ErrUnknownType.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSONObject, err)
	}

	switch head.Type {
	case TypeResponse:
		var res Response
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if res.ID == "" {
			return nil, ErrMissingID
		}
		return &Envelope{Response: &res}, nil

	case TypeEvent:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		return &Envelope{Event: &ev}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}
