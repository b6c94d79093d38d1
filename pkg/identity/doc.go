// Package identity manages the long-lived Ed25519 keypair identifying this
// installation.
//
// The device id is the hex-encoded SHA-256 digest of the raw 32-byte public
// key, so it is always re-derivable from the key material. The Store persists
// the keypair as a single JSON record with PEM-encoded keys, created on first
// use with owner-only permissions. A stored device id that no longer matches
// its public key's fingerprint is corrected and rewritten on load.
package identity
