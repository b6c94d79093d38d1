package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IdentityVersion is the current version of the identity file format.
const IdentityVersion = 1

// IdentityFile is the file name of the persisted identity record.
const IdentityFile = "identity.json"

// identityRecord is the on-disk JSON form of a device identity.
type identityRecord struct {
	Version       int    `json:"version"`
	DeviceID      string `json:"deviceId"`
	PublicKeyPEM  string `json:"publicKeyPem"`
	PrivateKeyPEM string `json:"privateKeyPem"`
	CreatedAtMs   int64  `json:"createdAtMs"`
}

// Store persists the device identity to a JSON file in a data directory.
// It is the only component allowed to write the identity file.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a store rooted at the given data directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the identity file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, IdentityFile)
}

// LoadOrCreate returns the persisted identity, or generates and persists a
// fresh one. Any read or parse failure is treated as "absent" and triggers
// generation; it is never surfaced to the caller.
func (s *Store) LoadOrCreate() (*DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id := s.load(); id != nil {
		return id, nil
	}
	return s.generate()
}

// load reads and validates the stored record. Returns nil when absent or
// malformed. A stale device id is corrected in memory and rewritten.
func (s *Store) load() *DeviceIdentity {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil
	}

	var rec identityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	if rec.Version != IdentityVersion {
		return nil
	}
	if rec.DeviceID == "" || rec.PublicKeyPEM == "" || rec.PrivateKeyPEM == "" {
		return nil
	}

	pub, err := DecodePublicKeyPEM([]byte(rec.PublicKeyPEM))
	if err != nil {
		return nil
	}
	priv, err := DecodePrivateKeyPEM([]byte(rec.PrivateKeyPEM))
	if err != nil {
		return nil
	}

	id := &DeviceIdentity{
		DeviceID:   rec.DeviceID,
		PublicKey:  pub,
		PrivateKey: priv,
	}

	// Self-healing: the device id must always match the public key's
	// fingerprint. Rewrite the record if it drifted.
	if fp := Fingerprint(pub); rec.DeviceID != fp {
		id.DeviceID = fp
		rec.DeviceID = fp
		_ = s.write(&rec)
	}

	return id
}

// generate creates a fresh identity and persists it.
func (s *Store) generate() (*DeviceIdentity, error) {
	id, err := Generate()
	if err != nil {
		return nil, err
	}

	pubPEM, err := EncodePublicKeyPEM(id.PublicKey)
	if err != nil {
		return nil, err
	}
	privPEM, err := EncodePrivateKeyPEM(id.PrivateKey)
	if err != nil {
		return nil, err
	}

	rec := identityRecord{
		Version:       IdentityVersion,
		DeviceID:      id.DeviceID,
		PublicKeyPEM:  string(pubPEM),
		PrivateKeyPEM: string(privPEM),
		CreatedAtMs:   time.Now().UnixMilli(),
	}
	if err := s.write(&rec); err != nil {
		return nil, err
	}

	return id, nil
}

// write persists the record with owner-only permissions, creating the data
// directory if needed.
func (s *Store) write(rec *identityRecord) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path(), data, 0600)
}
