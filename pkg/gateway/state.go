package gateway

// ConnState represents the connection state.
type ConnState uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnState = iota

	// StateAwaitingChallenge indicates the socket is open and the client is
	// waiting for the gateway to issue a challenge.
	StateAwaitingChallenge

	// StateAuthenticating indicates the signed connect request is in flight.
	StateAuthenticating

	// StateConnected indicates an authenticated, usable connection.
	StateConnected
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAwaitingChallenge:
		return "AWAITING_CHALLENGE"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}
