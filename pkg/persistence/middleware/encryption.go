package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

// encryptedKey is the payload key carrying the sealed blob.
const encryptedKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.EventStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals event payloads
// with AES-GCM (envelope encryption) before they reach the underlying
// store. ID, type, timestamp, and metadata stay in the clear: filters and
// time-range queries run against those fields in the store itself. The
// payload is where step params, outputs, and error text live.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.EventStore) ports.EventStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Append(ctx context.Context, evt domain.Event) error {
	if evt.Payload == nil {
		return m.next.Append(ctx, evt)
	}

	plainText, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}

	sealed := evt
	sealed.Payload = map[string]any{
		encryptedKey: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return m.next.Append(ctx, sealed)
}

func (m *encryptionMiddleware) List(ctx context.Context, opts ports.ListOptions) ([]domain.Event, error) {
	events, err := m.next.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	for i := range events {
		opened, err := m.open(events[i])
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", events[i].ID, err)
		}
		events[i] = opened
	}
	return events, nil
}

func (m *encryptionMiddleware) open(evt domain.Event) (domain.Event, error) {
	if evt.Payload == nil {
		return evt, nil
	}

	encryptedStr, ok := evt.Payload[encryptedKey].(string)
	if !ok {
		// A payload without an envelope means the log predates encryption
		// or was written around the middleware. Fail secure.
		return domain.Event{}, errors.New("payload is missing the encrypted envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(plainText, &payload); err != nil {
		return domain.Event{}, fmt.Errorf("failed to unmarshal decrypted payload: %w", err)
	}

	evt.Payload = payload
	return evt, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
