package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestStoreLoadOrCreate(t *testing.T) {
	t.Run("CreatesWhenAbsent", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		store := NewStore(dir)

		id, err := store.LoadOrCreate()
		if err != nil {
			t.Fatalf("LoadOrCreate failed: %v", err)
		}
		if id.DeviceID == "" {
			t.Error("DeviceID is empty")
		}

		if _, err := os.Stat(store.Path()); err != nil {
			t.Fatalf("identity file not created: %v", err)
		}

		if runtime.GOOS != "windows" {
			info, err := os.Stat(store.Path())
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm&0077 != 0 {
				t.Errorf("identity file permissions = %o, want owner-only", perm)
			}
		}
	})

	t.Run("StableAcrossLoads", func(t *testing.T) {
		store := NewStore(t.TempDir())

		first, err := store.LoadOrCreate()
		if err != nil {
			t.Fatal(err)
		}
		second, err := store.LoadOrCreate()
		if err != nil {
			t.Fatal(err)
		}

		if first.DeviceID != second.DeviceID {
			t.Errorf("DeviceID changed across loads: %q != %q", first.DeviceID, second.DeviceID)
		}
		if !first.PublicKey.Equal(second.PublicKey) {
			t.Error("public key changed across loads")
		}
	})

	t.Run("RegeneratesOnCorruptJSON", func(t *testing.T) {
		store := NewStore(t.TempDir())
		if _, err := store.LoadOrCreate(); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(store.Path(), []byte("{not json"), 0600); err != nil {
			t.Fatal(err)
		}

		id, err := store.LoadOrCreate()
		if err != nil {
			t.Fatalf("LoadOrCreate failed on corrupt file: %v", err)
		}
		if id.DeviceID == "" {
			t.Error("DeviceID is empty after regeneration")
		}
	})

	t.Run("RegeneratesOnVersionMismatch", func(t *testing.T) {
		store := NewStore(t.TempDir())
		first, err := store.LoadOrCreate()
		if err != nil {
			t.Fatal(err)
		}

		data, err := os.ReadFile(store.Path())
		if err != nil {
			t.Fatal(err)
		}
		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil {
			t.Fatal(err)
		}
		rec["version"] = 99
		data, err = json.Marshal(rec)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(store.Path(), data, 0600); err != nil {
			t.Fatal(err)
		}

		second, err := store.LoadOrCreate()
		if err != nil {
			t.Fatal(err)
		}
		if second.DeviceID == first.DeviceID {
			t.Error("expected a fresh identity for unknown schema version")
		}
	})
}

func TestStoreSelfHealing(t *testing.T) {
	store := NewStore(t.TempDir())
	id, err := store.LoadOrCreate()
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the stored device id while leaving the keys intact.
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var rec identityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	rec.DeviceID = "deadbeef"
	data, err = json.Marshal(&rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), data, 0600); err != nil {
		t.Fatal(err)
	}

	healed, err := store.LoadOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	if healed.DeviceID != id.DeviceID {
		t.Errorf("DeviceID = %q, want recomputed fingerprint %q", healed.DeviceID, id.DeviceID)
	}

	// The file on disk must have been rewritten with the corrected id.
	data, err = os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.DeviceID != id.DeviceID {
		t.Errorf("on-disk deviceId = %q, want %q", rec.DeviceID, id.DeviceID)
	}
}
