package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/ports"
)

// EnvelopeKey is the only argument key of an encrypted record.
const EnvelopeKey = "__encrypted__"

// ErrNotEncrypted is returned on replay when a record carries plain arguments.
var ErrNotEncrypted = errors.New("record is missing encrypted argument envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new records.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables key rotation without rewriting the journal.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	ports.Journal
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals record arguments with
// AES-GCM. Sequence, command name, id allocations and timestamp stay readable.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Journal) ports.Journal {
		return &encryptionMiddleware{
			Journal: next,
			config:  config,
		}
	}
}

func (m *encryptionMiddleware) Append(ctx context.Context, rec domain.Record) error {
	plainText, err := codec.MarshalArgs(rec.Args)
	if err != nil {
		return err
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt record %d: %w", rec.Seq, err)
	}

	envelope := rec
	envelope.Args = domain.Args{
		EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return m.Journal.Append(ctx, envelope)
}

func (m *encryptionMiddleware) Replay(ctx context.Context) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		for rec, err := range m.Journal.Replay(ctx) {
			if err == nil {
				rec, err = m.open(rec)
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (m *encryptionMiddleware) open(rec domain.Record) (domain.Record, error) {
	encoded, ok := rec.Args[EnvelopeKey].(string)
	if !ok || len(rec.Args) != 1 {
		// Fail secure: an encrypted journal never holds plain arguments.
		return rec, fmt.Errorf("record %d: %w", rec.Seq, ErrNotEncrypted)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return rec, fmt.Errorf("record %d: failed to decode ciphertext base64: %w", rec.Seq, err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return rec, fmt.Errorf("record %d: failed to decrypt arguments: %w", rec.Seq, err)
	}

	args, err := codec.UnmarshalArgs(plainText)
	if err != nil {
		return rec, fmt.Errorf("record %d: %w", rec.Seq, err)
	}
	rec.Args = args
	return rec, nil
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
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

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
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
