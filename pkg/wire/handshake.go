package wire

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Protocol version bounds advertised during the handshake.
const (
	MinProtocolVersion = 1
	MaxProtocolVersion = 1
)

// Handshake protocol names.
const (
	// MethodConnect is the authenticated connect request method.
	MethodConnect = "connect"

	// EventChallenge is the gateway-initiated challenge event. It is
	// intercepted by the connection and never forwarded to event listeners.
	EventChallenge = "connect.challenge"
)

// Close code and reason used when the gateway rejects the handshake.
// Application close codes live in the 4000-4999 websocket range.
const (
	CloseHandshakeFailed       = 4401
	CloseReasonHandshakeFailed = "handshake failed"
)

// ConnectParams is the params object of the connect request.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Device      *DeviceAuth `json:"device,omitempty"`
	Caps        []string    `json:"caps"`
	Auth        *AuthInfo   `json:"auth,omitempty"`
	UserAgent   string      `json:"userAgent,omitempty"`
	Locale      string      `json:"locale,omitempty"`
}

// ClientInfo identifies the connecting client installation.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// DeviceAuth is the signed device block proving possession of the device
// private key. PublicKey and Signature are unpadded base64url.
type DeviceAuth struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce"`
}

// AuthInfo carries optional credentials: a pre-shared bearer token and a
// device token previously issued by the gateway.
type AuthInfo struct {
	Token       string `json:"token,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

// ConnectResult is the payload of a successful connect response.
type ConnectResult struct {
	Auth *GrantedAuth `json:"auth,omitempty"`
}

// GrantedAuth carries a freshly issued device token and the scopes the
// gateway actually granted.
type GrantedAuth struct {
	DeviceToken string   `json:"deviceToken,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// ChallengePayload is the payload of the connect.challenge event.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// DecodeChallenge extracts the nonce from a connect.challenge payload.
func DecodeChallenge(payload json.RawMessage) (string, error) {
	var p ChallengePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", err
	}
	return p.Nonce, nil
}

// CanonicalConnectPayload builds the canonical string signed by the device
// key: pipe-joined fields with scopes joined by commas. The nonce is the
// challenge nonce issued by the gateway for this attempt.
func CanonicalConnectPayload(protocolVersion int, deviceID, clientID, clientMode, role string, scopes []string, signedAtMs int64, bearer, nonce string) string {
	fields := []string{
		strconv.Itoa(protocolVersion),
		deviceID,
		clientID,
		clientMode,
		role,
		strings.Join(scopes, ","),
		strconv.FormatInt(signedAtMs, 10),
		bearer,
		nonce,
	}
	return strings.Join(fields, "|")
}
