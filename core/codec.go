package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TokenPayloadFormatJSONV1 = "token_set_json"
	TokenPayloadVersionV1    = 1
)

// TokenCodec converts the plugin-facing TokenSet to and from the byte
// payload that goes through the vault.
type TokenCodec interface {
	Format() string
	Version() int
	Encode(tokens TokenSet) ([]byte, error)
	Decode(payload []byte) (TokenSet, error)
}

type JSONTokenCodec struct{}

func (JSONTokenCodec) Format() string {
	return TokenPayloadFormatJSONV1
}

func (JSONTokenCodec) Version() int {
	return TokenPayloadVersionV1
}

type jsonTokenPayload struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (JSONTokenCodec) Encode(tokens TokenSet) ([]byte, error) {
	payload := jsonTokenPayload{
		AccessToken:  strings.TrimSpace(tokens.AccessToken),
		RefreshToken: strings.TrimSpace(tokens.RefreshToken),
		ExpiresAt:    cloneTimePointer(tokens.ExpiresAt),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode token payload: %w", err)
	}
	return encoded, nil
}

func (JSONTokenCodec) Decode(payload []byte) (TokenSet, error) {
	if len(payload) == 0 {
		return TokenSet{}, fmt.Errorf("core: token payload is empty")
	}
	decoded := jsonTokenPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return TokenSet{}, fmt.Errorf("core: decode token payload: %w", err)
	}
	return TokenSet{
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
	}, nil
}

var _ TokenCodec = JSONTokenCodec{}
