package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAirdrop(t *testing.T, store *Store, signature, pubkey string, lamports int64) {
	t.Helper()

	if _, err := store.Airdrop(signature, pubkey, lamports); err != nil {
		t.Fatalf("airdrop %d to %q: %v", lamports, pubkey, err)
	}
}
