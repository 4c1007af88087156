package crypto

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureSignerKeyIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signer.json")

	first, err := EnsureSignerKey(path, "")
	if err != nil {
		t.Fatalf("first EnsureSignerKey failed: %v", err)
	}
	second, err := EnsureSignerKey(path, "")
	if err != nil {
		t.Fatalf("second EnsureSignerKey failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("expected stable signer key across runs")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 key file, got %o", perm)
	}
}

func TestSignerKeyFileIsKeygenCompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.json")

	key, err := EnsureSignerKey(path, "")
	if err != nil {
		t.Fatalf("EnsureSignerKey failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		t.Fatalf("key file is not a JSON array: %v", err)
	}
	if len(values) != 64 {
		t.Fatalf("expected 64 key bytes, got %d", len(values))
	}
	for i, v := range values {
		if byte(v) != key[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestSealedSignerKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.pem")

	key, err := EnsureSignerKey(path, "correct horse")
	if err != nil {
		t.Fatalf("EnsureSignerKey failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	if !strings.Contains(string(raw), "BEGIN "+sealedKeyPEMType) {
		t.Fatalf("expected sealed PEM block, got %q", raw)
	}

	loaded, err := LoadSignerKey(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadSignerKey failed: %v", err)
	}
	if !bytes.Equal(key, loaded) {
		t.Fatalf("expected sealed key to round trip")
	}

	if _, err := LoadSignerKey(path, "wrong horse"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
	if _, err := EnsureSignerKey(path, "wrong horse"); err == nil {
		t.Fatalf("expected EnsureSignerKey not to overwrite a key it cannot open")
	}
}

func TestLoadSignerKeyRejectsMismatchedHalves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.json")

	key, err := EnsureSignerKey(path, "")
	if err != nil {
		t.Fatalf("EnsureSignerKey failed: %v", err)
	}
	broken := append(key[:0:0], key...)
	broken[63] ^= 0xff
	if err := SaveSignerKey(path, broken, ""); err != nil {
		t.Fatalf("SaveSignerKey failed: %v", err)
	}

	if _, err := LoadSignerKey(path, ""); err == nil {
		t.Fatalf("expected mismatched key halves to be rejected")
	}
}

func TestLoadSignerKeyRejectsShortArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.json")
	if err := os.WriteFile(path, []byte("[1,2,3]"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	if _, err := LoadSignerKey(path, ""); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
}

func TestFormatFingerprint(t *testing.T) {
	if got := FormatFingerprint("abcdef0123"); got != "ABCD EF01 23" {
		t.Fatalf("unexpected formatted fingerprint %q", got)
	}
	if got := FormatFingerprint(""); got != "" {
		t.Fatalf("expected empty fingerprint, got %q", got)
	}
}

func TestKeyFingerprintLength(t *testing.T) {
	key, err := EnsureSignerKey(filepath.Join(t.TempDir(), "signer.json"), "")
	if err != nil {
		t.Fatalf("EnsureSignerKey failed: %v", err)
	}
	if got := KeyFingerprint(key.PublicKey()); len(got) != 32 {
		t.Fatalf("expected 32 hex chars, got %q", got)
	}
}
