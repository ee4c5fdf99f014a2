// Package crypto seals credential payloads with XChaCha20-Poly1305.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const nonceSize = chacha20poly1305.NonceSizeX

// ErrCrypto is wrapped by every key, encryption and decryption failure.
var ErrCrypto = errors.New("crypto")

// Box encrypts and decrypts JSON payloads under one master key.
type Box struct {
	key []byte
}

// NewBox parses a base64 (standard or URL alphabet, padded or not)
// encoding of a 32 byte key.
func NewBox(encodedKey string) (*Box, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, fmt.Errorf("%w: master key is empty", ErrCrypto)
	}

	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: master key is not base64", ErrCrypto)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrCrypto, chacha20poly1305.KeySize, len(key))
	}
	return &Box{key: key}, nil
}

func decodeKey(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawURLEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Encrypt marshals payload to JSON and returns nonce||ciphertext as
// unpadded base64url.
func (b *Box) Encrypt(payload map[string]any) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", ErrCrypto, err)
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrCrypto, err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. The error never includes plaintext.
func (b *Box) Decrypt(ciphertext string) (map[string]any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(ciphertext), "="))
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not base64url", ErrCrypto)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCrypto)
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	plaintext, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrCrypto)
	}

	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrCrypto)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrCrypto)
	}
	return payload, nil
}

// GenerateKey returns a fresh key in the encoding NewBox accepts.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
