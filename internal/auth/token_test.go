package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSigner(t *testing.T, secret string) *Signer {
	t.Helper()
	s, err := NewSigner([]byte(secret))
	require.NoError(t, err)
	return s.WithClock(func() time.Time { return fixedNow })
}

func TestIssueVerify(t *testing.T) {
	s := newTestSigner(t, "0123456789abcdef-secret")

	token, err := s.Issue("alice", "node-7", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "v1."))

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "node-7", claims.Node)
	assert.Equal(t, fixedNow.Unix(), claims.IssuedAt)
	assert.Equal(t, fixedNow.Add(time.Hour).Unix(), claims.ExpiresAt)
}

func TestVerify_Rejections(t *testing.T) {
	s := newTestSigner(t, "0123456789abcdef-secret")
	other := newTestSigner(t, "another-secret-entirely")

	valid, err := s.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	forged, err := other.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	expired, err := s.Issue("alice", "", -time.Second)
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"mallory","exp":9999999999}`)) + "." + parts[2]

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"missing", "", ErrMissingToken},
		{"whitespace", "   ", ErrMissingToken},
		{"no version", "abc.def", ErrMalformedToken},
		{"wrong version", "v2." + parts[1] + "." + parts[2], ErrMalformedToken},
		{"bad base64 signature", parts[0] + "." + parts[1] + ".!!!", ErrMalformedToken},
		{"signed with other secret", forged, ErrBadSignature},
		{"tampered claims", tampered, ErrBadSignature},
		{"expired", expired, ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := s.Verify(tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}

func TestVerify_ExpiresExactlyAtDeadline(t *testing.T) {
	s := newTestSigner(t, "0123456789abcdef-secret")
	token, err := s.Issue("alice", "", time.Minute)
	require.NoError(t, err)

	s.WithClock(func() time.Time { return fixedNow.Add(time.Minute) })
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestClaimsAllows(t *testing.T) {
	unbound := &Claims{Subject: "a"}
	assert.NoError(t, unbound.Allows("any"))
	assert.NoError(t, unbound.Allows(""))

	bound := &Claims{Subject: "a", Node: "n1"}
	assert.NoError(t, bound.Allows("n1"))
	assert.ErrorIs(t, bound.Allows("n2"), ErrNodeMismatch)
	assert.ErrorIs(t, bound.Allows("n2"), ErrAuthentication)
}

func TestNewSigner_EmptySecret(t *testing.T) {
	_, err := NewSigner(nil)
	assert.Error(t, err)
}
