// Package seal implements the symmetric crypto used by every component that
// persists opaque state: cookies, client-held sessions and cache payloads.
// Encryption is authenticated (AES-256-GCM), so any tampering with a sealed
// value is detected as a decryption failure rather than accepted silently.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrDecrypt is returned whenever a sealed value cannot be opened: wrong
	// key, truncated input or a failed integrity check all look the same to
	// the caller.
	ErrDecrypt = errors.New("unable to decrypt value")

	// ErrDecode is returned when a value is not valid URL-safe base64.
	ErrDecode = errors.New("unable to decode value")
)

// Sealer provides authenticated encryption with a fixed key derived once from
// a configured secret. A Sealer is safe for concurrent use and is intended to
// be constructed once at startup and shared read-only by all requests.
type Sealer struct {
	aead cipher.AEAD
}

// hkdfInfo binds derived keys to this usage, so the same passphrase used
// elsewhere yields an unrelated key here.
const hkdfInfo = "rp session encryption v1"

// New derives a 256-bit key from the given secret using HKDF-SHA256 and
// returns a Sealer using that key with AES-GCM. The secret is never retained;
// the Sealer can always be recreated from the same secret.
func New(secret string) (*Sealer, error) {
	const op = "seal.New"
	if secret == "" {
		return nil, fmt.Errorf("%s: secret is empty", op)
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%s: unable to derive key: %w", op, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create cipher: %w", op, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create aead: %w", op, err)
	}
	return &Sealer{aead: aead}, nil
}

// Encrypt seals the plaintext and returns a URL-safe string carrying the
// nonce and the authenticated ciphertext.
func (s *Sealer) Encrypt(plaintext []byte) (string, error) {
	const op = "Sealer.Encrypt"
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, plaintext, nil)
	return EncodeURLSafe(ciphertext), nil
}

// Decrypt opens a value produced by Encrypt. Input read back from cookies or
// cache payloads is attacker-controlled, so any integrity failure is reported
// as ErrDecrypt.
func (s *Sealer) Decrypt(value string) ([]byte, error) {
	const op = "Sealer.Decrypt"
	raw, err := DecodeURLSafe(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrDecrypt)
	}
	if len(raw) < s.aead.NonceSize() {
		return nil, fmt.Errorf("%s: %w", op, ErrDecrypt)
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrDecrypt)
	}
	return plaintext, nil
}

// EncodeURLSafe encodes bytes using unpadded URL-safe base64, suitable for
// cookie values and query parameters.
func EncodeURLSafe(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeURLSafe decodes a string produced by EncodeURLSafe.
func DecodeURLSafe(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("seal.DecodeURLSafe: %w", ErrDecode)
	}
	return b, nil
}
