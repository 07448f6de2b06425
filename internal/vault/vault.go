package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrOpen is returned when a sealed value cannot be authenticated.
var ErrOpen = errors.New("vault: cannot open sealed value")

// Vault seals short secrets that must sit in scratch storage between turns.
type Vault struct {
	key [32]byte
}

// New derives the sealing key from secret. An empty secret yields a random
// per-process key, so sealed values do not survive a restart.
func New(secret string) (*Vault, error) {
	v := &Vault{}
	if secret == "" {
		if _, err := io.ReadFull(rand.Reader, v.key[:]); err != nil {
			return nil, fmt.Errorf("vault key: %w", err)
		}
		return v, nil
	}
	v.key = sha256.Sum256([]byte(secret))
	return v, nil
}

// Seal encrypts plaintext and returns a base64 string.
func (v *Vault) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("vault nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &v.key)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (v *Vault) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize {
		return "", ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &v.key)
	if !ok {
		return "", ErrOpen
	}
	return string(plain), nil
}
