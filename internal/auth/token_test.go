package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	a := AdminToken{Secret: []byte("s3cret"), Now: func() time.Time { return now }}

	tok, err := a.Issue("ops", time.Hour)
	require.NoError(t, err)
	subject, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)

	later := AdminToken{Secret: a.Secret, Now: func() time.Time { return now.Add(2 * time.Hour) }}
	_, err = later.Verify(tok)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestAdminTokenRejects(t *testing.T) {
	a := AdminToken{Secret: []byte("s3cret")}
	tok, err := a.Issue("ops", time.Hour)
	require.NoError(t, err)
	payload := strings.SplitN(tok, ".", 2)[0]

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"no dot", "abc", ErrBadToken},
		{"bad base64", "!!!.sig", ErrBadToken},
		{"wrong signature", payload + ".AAAA", ErrBadSig},
		{"no separator", signRaw(a.Secret, "ops"), ErrBadPayload},
		{"bad expiry", signRaw(a.Secret, "ops|soon"), ErrBadPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	other := AdminToken{Secret: []byte("different")}
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrBadSig)
}

func TestAdminTokenNeedsSecret(t *testing.T) {
	_, err := AdminToken{}.Issue("ops", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = AdminToken{}.Verify("a.b")
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = AdminToken{Secret: []byte("x")}.Issue("a|b", time.Hour)
	assert.ErrorIs(t, err, ErrBadPayload)
}

// signRaw signs an arbitrary message so payload parsing can be exercised.
func signRaw(secret []byte, msg string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(msg)) + "." + mac(secret, msg)
}
