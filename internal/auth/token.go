// Package auth verifies the bearer tokens presented in "connect" messages.
//
// Tokens are versioned and HMAC signed:
//
//	v1.<base64url(claims json)>.<base64url(hmac_sha256)>
//
// The HMAC key is derived from the configured signing secret with
// HKDF-SHA256, so the raw secret is never used as a MAC key directly.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const tokenVersion = "v1"

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrMissingToken   = fmt.Errorf("%w: missing token", ErrAuthentication)
	ErrMalformedToken = fmt.Errorf("%w: malformed token", ErrAuthentication)
	ErrBadSignature   = fmt.Errorf("%w: bad signature", ErrAuthentication)
	ErrExpiredToken   = fmt.Errorf("%w: token expired", ErrAuthentication)
	ErrNodeMismatch   = fmt.Errorf("%w: token not valid for node", ErrAuthentication)
)

// Claims is the signed payload of a token.
type Claims struct {
	Subject   string `json:"sub"`
	Node      string `json:"node,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Allows reports whether the claims may open a session on nodeID. Tokens
// without a node binding are valid for every node.
func (c *Claims) Allows(nodeID string) error {
	if c.Node == "" || c.Node == nodeID {
		return nil
	}
	return ErrNodeMismatch
}

// Signer issues and verifies tokens with one derived key.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner derives the MAC key from secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signing secret is empty")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, []byte("rdpgate-token-v1"), []byte("bearer"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return &Signer{key: key, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Issue mints a token for subject, optionally bound to node, valid for ttl.
func (s *Signer) Issue(subject, node string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Subject:   subject,
		Node:      node,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signed := tokenVersion + "." + base64.RawURLEncoding.EncodeToString(raw)
	return signed + "." + base64.RawURLEncoding.EncodeToString(s.mac(signed)), nil
}

// Verify checks the signature and expiry of token and returns its claims.
// Every failure matches errors.Is(err, ErrAuthentication).
func (s *Signer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	lastDot := strings.LastIndexByte(token, '.')
	if lastDot <= 0 || !strings.HasPrefix(token, tokenVersion+".") {
		return nil, ErrMalformedToken
	}
	signed, sigPart := token[:lastDot], token[lastDot+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, ErrMalformedToken
	}
	if !hmac.Equal(sig, s.mac(signed)) {
		return nil, ErrBadSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(signed[len(tokenVersion)+1:])
	if err != nil {
		return nil, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, ErrMalformedToken
	}
	if claims.ExpiresAt == 0 || !s.now().Before(time.Unix(claims.ExpiresAt, 0)) {
		return nil, ErrExpiredToken
	}
	return &claims, nil
}

func (s *Signer) mac(signed string) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(signed))
	return m.Sum(nil)
}
