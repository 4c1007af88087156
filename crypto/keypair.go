package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// EnsureSignerKey loads the signer key at path, generating it on first run.
//
// Without a passphrase the key is stored as a solana-keygen JSON array. With a passphrase
// it is sealed into a PEM block instead. A file written one way is not readable the other
// way.
func EnsureSignerKey(path, passphrase string) (solana.PrivateKey, error) {
	key, err := LoadSignerKey(path, passphrase)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	_, generated, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signer key: %w", err)
	}
	key = solana.PrivateKey(generated)
	if err := SaveSignerKey(path, key, passphrase); err != nil {
		return nil, err
	}

	return key, nil
}

// LoadSignerKey reads a signer key written by SaveSignerKey and checks that its public
// half matches its seed.
func LoadSignerKey(path, passphrase string) (solana.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signer key: %w", err)
	}

	var key solana.PrivateKey
	if passphrase != "" {
		key, err = openSealedKey(raw, passphrase)
	} else {
		key, err = decodeKeygenJSON(raw)
	}
	if err != nil {
		return nil, err
	}
	if err := checkKeyPair(key); err != nil {
		return nil, err
	}

	return key, nil
}

// SaveSignerKey writes key to path with 0600 permissions, sealing it when passphrase is
// non-empty.
func SaveSignerKey(path string, key solana.PrivateKey, passphrase string) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("save signer key: invalid key size %d", len(key))
	}

	var (
		raw []byte
		err error
	)
	if passphrase != "" {
		raw, err = sealKey(key, passphrase)
	} else {
		raw, err = encodeKeygenJSON(key)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write signer key: %w", err)
	}

	return nil
}

func encodeKeygenJSON(key solana.PrivateKey) ([]byte, error) {
	// solana-keygen writes the key as a JSON array of numbers, not base64.
	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode signer key: %w", err)
	}
	return raw, nil
}

func decodeKeygenJSON(raw []byte) (solana.PrivateKey, error) {
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	if len(values) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("decode signer key: invalid key size %d", len(values))
	}

	key := make(solana.PrivateKey, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("decode signer key: byte %d out of range: %d", i, v)
		}
		key[i] = byte(v)
	}
	return key, nil
}

func sealKey(key solana.PrivateKey, passphrase string) ([]byte, error) {
	salt, nonce, ciphertext, err := SealWithPassphrase(passphrase, key)
	if err != nil {
		return nil, fmt.Errorf("seal signer key: %w", err)
	}

	block := &pem.Block{
		Type: sealedKeyPEMType,
		Headers: map[string]string{
			"Salt":  hex.EncodeToString(salt),
			"Nonce": hex.EncodeToString(nonce),
		},
		Bytes: ciphertext,
	}
	return pem.EncodeToMemory(block), nil
}

func openSealedKey(raw []byte, passphrase string) (solana.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("decode sealed signer key: no PEM block")
	}
	if block.Type != sealedKeyPEMType {
		return nil, fmt.Errorf("decode sealed signer key: unexpected type %q", block.Type)
	}

	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil {
		return nil, fmt.Errorf("decode sealed signer key salt: %w", err)
	}
	nonce, err := hex.DecodeString(block.Headers["Nonce"])
	if err != nil {
		return nil, fmt.Errorf("decode sealed signer key nonce: %w", err)
	}

	plaintext, err := OpenWithPassphrase(passphrase, salt, nonce, block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("open sealed signer key: %w", err)
	}
	if len(plaintext) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("open sealed signer key: invalid key size %d", len(plaintext))
	}
	return solana.PrivateKey(plaintext), nil
}

func checkKeyPair(key solana.PrivateKey) error {
	challenge := []byte("iotpanel signer check")
	signature, err := Sign(key, challenge)
	if err != nil {
		return err
	}
	if !Verify(key.PublicKey(), challenge, signature) {
		return errors.New("signer key public half does not match its seed")
	}
	return nil
}

// KeyFingerprint returns the truncated SHA-256 hex fingerprint of a public key.
func KeyFingerprint(publicKey solana.PublicKey) string {
	sum := sha256.Sum256(publicKey[:])
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := min(i+4, len(clean))
		b.WriteString(clean[i:end])
	}

	return b.String()
}
