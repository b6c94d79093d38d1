package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestFingerprint(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	t.Run("Deterministic", func(t *testing.T) {
		sum := sha256.Sum256(id.PublicKey)
		want := hex.EncodeToString(sum[:])
		if id.DeviceID != want {
			t.Errorf("DeviceID = %q, want %q", id.DeviceID, want)
		}
		if Fingerprint(id.PublicKey) != want {
			t.Error("Fingerprint is not reproducible")
		}
	})

	t.Run("Length", func(t *testing.T) {
		if len(id.DeviceID) != 64 {
			t.Errorf("DeviceID length = %d, want 64 hex chars", len(id.DeviceID))
		}
	})
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	payload := "1|dev|cli|observer|operator|a,b|123||nonce"
	sig := id.Sign(payload)

	t.Run("RoundTrip", func(t *testing.T) {
		if !Verify(id.PublicKeyB64(), payload, sig) {
			t.Error("signature does not verify")
		}
	})

	t.Run("TamperedPayload", func(t *testing.T) {
		if Verify(id.PublicKeyB64(), payload+"x", sig) {
			t.Error("tampered payload verified")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := Generate()
		if err != nil {
			t.Fatal(err)
		}
		if Verify(other.PublicKeyB64(), payload, sig) {
			t.Error("signature verified against wrong key")
		}
	})

	t.Run("GarbageInputs", func(t *testing.T) {
		if Verify("!!", payload, sig) {
			t.Error("invalid public key accepted")
		}
		if Verify(id.PublicKeyB64(), payload, "!!") {
			t.Error("invalid signature accepted")
		}
	})
}

func TestPEMRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	t.Run("PublicKey", func(t *testing.T) {
		data, err := EncodePublicKeyPEM(id.PublicKey)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		pub, err := DecodePublicKeyPEM(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !pub.Equal(id.PublicKey) {
			t.Error("public key changed across PEM round trip")
		}
	})

	t.Run("PrivateKey", func(t *testing.T) {
		data, err := EncodePrivateKeyPEM(id.PrivateKey)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		priv, err := DecodePrivateKeyPEM(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !priv.Equal(id.PrivateKey) {
			t.Error("private key changed across PEM round trip")
		}
	})

	t.Run("InvalidPEM", func(t *testing.T) {
		if _, err := DecodePublicKeyPEM([]byte("garbage")); err == nil {
			t.Error("expected error for invalid public key PEM")
		}
		if _, err := DecodePrivateKeyPEM([]byte("garbage")); err == nil {
			t.Error("expected error for invalid private key PEM")
		}
	})
}
