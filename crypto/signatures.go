// Package crypto holds signer key storage and the Ed25519 helpers the ledger uses.
package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Sign signs data with a ledger signer key.
func Sign(key solana.PrivateKey, data []byte) (solana.Signature, error) {
	if len(key) != ed25519.PrivateKeySize {
		return solana.Signature{}, fmt.Errorf("invalid signer key length: got %d want %d", len(key), ed25519.PrivateKeySize)
	}
	if len(data) == 0 {
		return solana.Signature{}, errors.New("data is required")
	}

	var signature solana.Signature
	copy(signature[:], ed25519.Sign(ed25519.PrivateKey(key), data))
	return signature, nil
}

// Verify reports whether signature is a valid signature of data by publicKey.
func Verify(publicKey solana.PublicKey, data []byte, signature solana.Signature) bool {
	if len(data) == 0 {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey[:]), data, signature[:])
}
