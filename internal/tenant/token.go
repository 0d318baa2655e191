package tenant

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Token errors.
var (
	// ErrInvalidToken indicates a malformed or tampered bearer token.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims are the identity claims carried by a bearer token.
type Claims struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id,omitempty"`
}

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// HMACVerifier verifies compact tokens of the form
// base64url(claims JSON) "." base64url(HMAC-SHA256(claims JSON, secret)).
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier with the given shared secret.
func NewHMACVerifier(secret []byte) (*HMACVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret cannot be empty")
	}
	return &HMACVerifier{secret: secret}, nil
}

// Verify checks the token signature and decodes its claims.
func (v *HMACVerifier) Verify(token string) (Claims, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, fmt.Errorf("%w: missing signature", ErrInvalidToken)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payloadBytes)
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return Claims{}, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// SignToken produces a token the HMACVerifier accepts. Used by tests and
// by provisioning tooling that issues service credentials.
func SignToken(secret []byte, claims Claims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payloadBytes)
	return base64.RawURLEncoding.EncodeToString(payloadBytes) + "." +
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
