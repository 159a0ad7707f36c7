package meshcred

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Token is the transient, shareable form of mesh Credentials: everything a
// new device needs to join, plus an optional hint for where to find the
// wide-area relay. Tokens are produced by GenerateInvite and consumed once
// by ApplyInvite; they are never persisted as-is.
type Token struct {
	MeshID      uuid.UUID  `json:"mesh_id"`
	Secret      string     `json:"secret"`
	AppID       string     `json:"app_id"`
	BigllamaURL string     `json:"bigllama_url,omitempty"`
	Created     time.Time  `json:"created"`
	Expires     *time.Time `json:"expires,omitempty"`
}

// GenerateInvite builds an invite token from the node's current mesh
// credentials. wideAreaURL is optional (empty string omits bigllama_url).
// ttl, if non-zero, sets the token's expiry relative to now; a zero ttl
// produces a token that never expires on its own (the mesh's own
// Credentials.ExpiresAt, if any, still applies once joined).
func GenerateInvite(creds *Credentials, appID, wideAreaURL string, ttl time.Duration) *Token {
	tok := &Token{
		MeshID:      creds.MeshID,
		Secret:      creds.SecretHex,
		AppID:       appID,
		BigllamaURL: wideAreaURL,
		Created:     time.Now(),
	}
	if ttl > 0 {
		exp := tok.Created.Add(ttl)
		tok.Expires = &exp
	}
	return tok
}

// ToBase64 encodes the token as standard (padded) base64, without line
// wrapping, of its UTF-8 JSON form: {mesh_id, secret, app_id,
// bigllama_url?, created, expires?}.
func (t *Token) ToBase64() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("meshcred: failed to encode invite token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// TokenFromBase64 decodes and validates an invite token produced by
// ToBase64. It returns ErrBadFormat for malformed input and ErrExpired for
// a well-formed token past its expiry; callers distinguish the two with
// errors.Is.
func TokenFromBase64(s string) (*Token, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64: %v", ErrBadFormat, err)
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", ErrBadFormat, err)
	}
	if t.MeshID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing mesh_id", ErrBadFormat)
	}
	if _, err := decodeSecret(t.Secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if t.Expires != nil && time.Now().After(*t.Expires) {
		return nil, ErrExpired
	}
	return &t, nil
}

// ToCredentials extracts mesh membership credentials from an invite token.
func (t *Token) ToCredentials() (*Credentials, error) {
	secret, err := decodeSecret(t.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	return &Credentials{
		MeshID:    t.MeshID,
		Secret:    secret,
		SecretHex: t.Secret,
		CreatedAt: time.Now(),
	}, nil
}
