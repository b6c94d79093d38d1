// Package wire defines the JSON message envelopes spoken over the gateway
// websocket.
//
// Every message is a JSON object with a "type" discriminator:
//
//	{"type": "req",   "id": "...", "method": "...", "params": {...}}
//	{"type": "res",   "id": "...", "ok": true, "payload": {...}}
//	{"type": "event", "event": "...", "payload": {...}}
//
// Requests are only sent by the client; responses and events are only
// received. The gateway drives authentication by emitting a
// "connect.challenge" event carrying a nonce, which the client answers with
// a "connect" request whose params include a signed device block (see
// ConnectParams and CanonicalConnectPayload).
package wire
