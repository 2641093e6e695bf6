// Package encryption seals chat message bodies with AES-256-GCM. Each
// message carries its own random nonce, so records decrypt independently.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"tastechat/backend/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	// KeySize is the required key length (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce length (96 bits).
	NonceSize = 12
	// TagSize is the GCM authentication tag length (128 bits).
	TagSize = 16

	// NoIVSentinel marks records written without encryption.
	NoIVSentinel = "no-iv"
	// DecryptFailedMarker replaces content that cannot be recovered.
	DecryptFailedMarker = "[message unavailable]"

	ModeAESGCM   = "aes-256-gcm"
	ModeDegraded = "degraded"
)

var (
	ErrInvalidKey = errors.New("encryption key must be 32 bytes of base64")
	ErrNoKey      = errors.New("record is encrypted but no key is configured")
)

// Envelope is what gets stored for a message body.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// Degraded reports whether the envelope was written without encryption.
func (e Envelope) Degraded() bool {
	return e.IV == NoIVSentinel
}

// Engine encrypts and decrypts envelopes. It is safe for concurrent use;
// the only shared state is the AEAD built from the static key.
type Engine struct {
	aead   cipher.AEAD
	logger zerolog.Logger
}

// NewEngine builds an engine from a base64 key. A missing or invalid key
// yields a degraded engine and a loud warning instead of an error, so the
// service stays available; callers expose Mode() on their health surface.
func NewEngine(keyBase64 string, logger zerolog.Logger) *Engine {
	e := &Engine{logger: logger}

	aead, err := newAEAD(keyBase64)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("mode", ModeDegraded).
			Msg("MESSAGE ENCRYPTION DISABLED: chat messages will be stored base64-encoded only")
		metrics.EncryptionDegraded.Set(1)
		return e
	}

	e.aead = aead
	metrics.EncryptionDegraded.Set(0)
	return e
}

func newAEAD(keyBase64 string) (cipher.AEAD, error) {
	if keyBase64 == "" {
		return nil, ErrInvalidKey
	}
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return aead, nil
}

// Mode returns ModeAESGCM or ModeDegraded.
func (e *Engine) Mode() string {
	if e.Degraded() {
		return ModeDegraded
	}
	return ModeAESGCM
}

// Degraded reports whether no valid key is configured.
func (e *Engine) Degraded() bool {
	return e.aead == nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (e *Engine) Encrypt(plaintext string) (Envelope, error) {
	if e.Degraded() {
		return Envelope{
			Ciphertext: base64.StdEncoding.EncodeToString([]byte(plaintext)),
			IV:         NoIVSentinel,
		}, nil
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		IV:         base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Open returns the plaintext of env or the reason it could not be read.
func (e *Engine) Open(env Envelope) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if env.Degraded() {
		return string(raw), nil
	}
	if e.Degraded() {
		return "", ErrNoKey
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", fmt.Errorf("failed to decode iv: %w", err)
	}
	if len(nonce) != NonceSize {
		return "", fmt.Errorf("invalid iv length %d", len(nonce))
	}

	plaintext, err := e.aead.Open(nil, nonce, raw, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt content: %w", err)
	}
	return string(plaintext), nil
}

// Decrypt is Open that fails closed: any failure is logged and rendered
// as DecryptFailedMarker so one corrupt record cannot abort a history page.
func (e *Engine) Decrypt(env Envelope) string {
	plaintext, err := e.Open(env)
	if err != nil {
		metrics.DecryptFailures.Inc()
		e.logger.Error().Err(err).Msg("message decryption failed")
		return DecryptFailedMarker
	}
	return plaintext
}
