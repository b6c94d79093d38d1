package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// DeviceIdentity is the installation's asymmetric identity. It is created
// once per installation and never changes afterwards.
type DeviceIdentity struct {
	// DeviceID is the hex SHA-256 fingerprint of the raw public key.
	DeviceID string

	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Fingerprint computes the device id for a public key: the hex-encoded
// SHA-256 digest of the raw 32-byte key, not of any encoded container form.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Generate creates a fresh device identity.
func Generate() (*DeviceIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &DeviceIdentity{
		DeviceID:   Fingerprint(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// Sign signs the UTF-8 bytes of payload with the raw (non-prehashed)
// Ed25519 algorithm and returns the signature as unpadded base64url.
func (id *DeviceIdentity) Sign(payload string) string {
	sig := ed25519.Sign(id.PrivateKey, []byte(payload))
	return base64.RawURLEncoding.EncodeToString(sig)
}

// PublicKeyB64 returns the raw 32-byte public key as unpadded base64url,
// the form carried in the handshake device block.
func (id *DeviceIdentity) PublicKeyB64() string {
	return base64.RawURLEncoding.EncodeToString(id.PublicKey)
}

// Verify checks a base64url signature over payload against a base64url raw
// public key. Used by tests and gateway-side tooling.
func Verify(publicKeyB64, payload, signatureB64 string) bool {
	pub, err := base64.RawURLEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(payload), sig)
}
