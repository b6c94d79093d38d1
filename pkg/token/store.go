// Package token caches role-scoped device tokens issued by the gateway
// after a successful handshake.
//
// Tokens are device-bound: the on-disk container records the device id it
// was written for, and a container whose device id does not match the
// current identity is discarded wholesale. Mixing tokens across identities
// (for example after identity regeneration) must never happen.
package token

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// TokensVersion is the current version of the token file format.
const TokensVersion = 1

// TokensFile is the file name of the persisted token container.
const TokensFile = "device-tokens.json"

// Record is a single role-scoped token entry.
type Record struct {
	Token       string   `json:"token"`
	Role        string   `json:"role"`
	Scopes      []string `json:"scopes"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

// container is the on-disk form: all roles for one device id.
type container struct {
	Version  int               `json:"version"`
	DeviceID string            `json:"deviceId"`
	Tokens   map[string]Record `json:"tokens"`
}

// Store persists device tokens to a JSON file in a data directory.
type Store struct {
	mu  sync.Mutex
	dir string

	// now is overridable for tests.
	now func() time.Time
}

// NewStore creates a store rooted at the given data directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Path returns the token file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, TokensFile)
}

// Load returns the stored token for role, if the stored container belongs
// to deviceID. Read and parse failures are treated as absent.
func (s *Store) Load(deviceID, role string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.read()
	if c == nil || c.DeviceID != deviceID {
		return "", false
	}
	rec, ok := c.Tokens[role]
	if !ok || rec.Token == "" {
		return "", false
	}
	return rec.Token, true
}

// Save sets the token for role, replacing any previous entry. An empty
// token is a no-op. A container written for a different device id is
// discarded rather than merged. The whole container is written atomically
// with owner-only permissions.
func (s *Store) Save(deviceID, role, token string, scopes []string) error {
	if token == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.read()
	if c == nil || c.DeviceID != deviceID {
		c = &container{DeviceID: deviceID, Tokens: make(map[string]Record)}
	}
	if c.Tokens == nil {
		c.Tokens = make(map[string]Record)
	}

	c.Version = TokensVersion
	c.Tokens[role] = Record{
		Token:       token,
		Role:        role,
		Scopes:      normalizeScopes(scopes),
		UpdatedAtMs: s.now().UnixMilli(),
	}

	return s.write(c)
}

// read loads the container from disk. Returns nil when absent or malformed.
func (s *Store) read() *container {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil
	}
	var c container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil
	}
	if c.Version != TokensVersion {
		return nil
	}
	return &c
}

// write persists the container atomically: write to a temp file in the same
// directory, then rename over the target.
func (s *Store) write(c *container) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, TokensFile+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, s.Path())
}

// normalizeScopes returns a deduplicated, lexicographically sorted copy.
func normalizeScopes(scopes []string) []string {
	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		if sc == "" || seen[sc] {
			continue
		}
		seen[sc] = true
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}
