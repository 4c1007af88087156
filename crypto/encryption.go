package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	aes256KeySize    = 32
	sealedKeyPEMType = "IOTPANEL SEALED KEY"
	saltSize         = 16

	// scrypt cost parameters recommended for interactive logins.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// SealWithPassphrase encrypts plaintext with an AES-256-GCM key derived from passphrase
// with scrypt. It returns the random salt and nonce needed to open it again.
func SealWithPassphrase(passphrase string, plaintext []byte) (salt, nonce, ciphertext []byte, err error) {
	if passphrase == "" {
		return nil, nil, nil, errors.New("passphrase is required")
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, nil, nil, err
	}

	ciphertext, nonce, err = Encrypt(key, plaintext)
	if err != nil {
		return nil, nil, nil, err
	}
	return salt, nonce, ciphertext, nil
}

// OpenWithPassphrase reverses SealWithPassphrase. A wrong passphrase fails authentication.
func OpenWithPassphrase(passphrase string, salt, nonce, ciphertext []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("invalid salt length: got %d want %d", len(salt), saltSize)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return Decrypt(key, nonce, ciphertext)
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, aes256KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext with AES-256-GCM and returns ciphertext and nonce.
func Encrypt(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts AES-256-GCM ciphertext using the provided nonce.
func Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("ciphertext is required")
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: got %d want %d", len(nonce), aead.NonceSize())
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt ciphertext: %w", err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != aes256KeySize {
		return nil, fmt.Errorf("invalid key length: got %d want %d", len(key), aes256KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}
