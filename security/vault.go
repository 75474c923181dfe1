package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/memorymesh/integrations/core"
)

const envelopePrefix = "memorymesh.secret.v1:"

type Option func(*AppKeyVault)

// AppKeyVault seals token payloads with AES-256-GCM under a single
// application key. Key material of any length is accepted; non-AES sizes
// are normalized through SHA-256.
type AppKeyVault struct {
	key     []byte
	keyID   string
	version int
}

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func WithKeyID(id string) Option {
	return func(vault *AppKeyVault) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			vault.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(vault *AppKeyVault) {
		if version > 0 {
			vault.version = version
		}
	}
}

func NewAppKeyVault(keyMaterial []byte, opts ...Option) (*AppKeyVault, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	normalized := normalizeKey(key)
	vault := &AppKeyVault{
		key:     normalized,
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(vault)
	}
	return vault, nil
}

func NewAppKeyVaultFromString(key string, opts ...Option) (*AppKeyVault, error) {
	return NewAppKeyVault([]byte(key), opts...)
}

func (v *AppKeyVault) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("security: vault is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	data, err := json.Marshal(envelope{
		KeyID:      v.keyID,
		Version:    v.version,
		Algorithm:  "aes-256-gcm",
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}

	prefixed := append([]byte(envelopePrefix), data...)
	return prefixed, nil
}

func (v *AppKeyVault) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("security: vault is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: ciphertext is required")
	}

	payload := string(ciphertext)
	if strings.HasPrefix(payload, envelopePrefix) {
		payload = strings.TrimPrefix(payload, envelopePrefix)
	}

	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("security: decode envelope: %w", err)
	}

	if parsed.KeyID != "" && parsed.KeyID != v.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, v.keyID)
	}
	if parsed.Version > 0 && parsed.Version != v.version {
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", parsed.Version, v.version)
	}

	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("security: decode nonce: %w", err)
	}
	encryptedPayload, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("security: decode ciphertext payload: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedPayload, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (v *AppKeyVault) KeyID() string {
	if v == nil {
		return ""
	}
	return v.keyID
}

func (v *AppKeyVault) Version() int {
	if v == nil {
		return 0
	}
	return v.version
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

// PlaintextVault stores payloads as-is. It exists so the engine keeps
// working when no key is configured; ResolveVault logs a warning whenever
// it hands one out.
type PlaintextVault struct{}

func (PlaintextVault) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (PlaintextVault) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: ciphertext is required")
	}
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	return out, nil
}

// ResolveVault picks the vault implementation from the configured key.
// Empty key degrades to plaintext storage with a warning instead of
// refusing to start.
func ResolveVault(key string, logger core.Logger) (core.Vault, error) {
	if strings.TrimSpace(key) == "" {
		if logger != nil {
			logger.Warn("vault key is not configured, storing credentials in plaintext")
		}
		return PlaintextVault{}, nil
	}
	return NewAppKeyVaultFromString(key)
}

var _ core.Vault = (*AppKeyVault)(nil)

var _ core.Vault = PlaintextVault{}
