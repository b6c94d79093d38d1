package gateway

import (
	"github.com/opsdeck/opsdeck-go/pkg/wire"
)

// Status describes a connection state change reported through OnStatus.
type Status struct {
	// Connected is true only in the Connected state.
	Connected bool

	// Phase is the state the connection moved to.
	Phase ConnState

	// Err carries the failure that caused the transition, if any.
	Err error

	// Code and Reason carry the transport close details for disconnects.
	Code   int
	Reason string
}

// Handler receives connection notifications.
//
// Callbacks are invoked sequentially from the connection's dispatch context
// and must not block. They must not call Stop; shut the connection down from
// a separate goroutine instead.
type Handler interface {
	// OnStatus is called on every connection state change.
	OnStatus(status Status)

	// OnEvent is called for every inbound gateway event. The handshake
	// challenge is intercepted by the connection and never delivered here.
	OnEvent(event *wire.Event)
}
