// Package gateway maintains the authenticated websocket connection to the
// control-plane gateway.
//
// The connection owns the transport, drives the device-identity handshake,
// multiplexes concurrent requests over the single socket, forwards inbound
// events, and reconnects automatically after a fixed delay.
//
// # Handshake
//
// The gateway initiates authentication: after the socket opens, the client
// waits for a connect.challenge event carrying a nonce. It then signs the
// canonical connect payload with the device private key and sends a single
// connect request. On success the gateway may issue a rotating device token,
// which is persisted for future handshakes. On rejection the client closes
// the socket with a fixed close code and falls through the normal close
// handling, which schedules a reconnect.
//
// # Lifecycle
//
//	Disconnected -> AwaitingChallenge -> Authenticating -> Connected
//
// A transport close from any state returns to Disconnected, fails every
// in-flight request with the close code and reason, and arms exactly one
// reconnect timer. Stop cancels the timer, abandons in-flight requests and
// guarantees no further callbacks or reconnect attempts.
package gateway
