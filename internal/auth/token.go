package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadToken   = errors.New("bad token")
	ErrBadSig     = errors.New("invalid signature")
	ErrExpired    = errors.New("expired")
	ErrBadPayload = errors.New("bad payload")
	ErrNoSecret   = errors.New("admin secret not configured")
)

// AdminToken signs and verifies bearer tokens for the admin API. A token is
// base64url("subject|expiry") + "." + base64url(hmac-sha256).
type AdminToken struct {
	Secret []byte
	Now    func() time.Time
}

func (a AdminToken) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a AdminToken) Sign(subject string, exp time.Time) (string, error) {
	if len(a.Secret) == 0 {
		return "", ErrNoSecret
	}
	if subject == "" || strings.Contains(subject, "|") {
		return "", ErrBadPayload
	}
	msg := subject + "|" + strconv.FormatInt(exp.Unix(), 10)
	payload := base64.RawURLEncoding.EncodeToString([]byte(msg))
	return payload + "." + mac(a.Secret, msg), nil
}

// Issue signs a token for subject valid for ttl.
func (a AdminToken) Issue(subject string, ttl time.Duration) (string, error) {
	return a.Sign(subject, a.now().Add(ttl))
}

// Verify returns the token subject.
func (a AdminToken) Verify(token string) (string, error) {
	if len(a.Secret) == 0 {
		return "", ErrNoSecret
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", ErrBadToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrBadToken
	}

	if !hmac.Equal([]byte(mac(a.Secret, string(raw))), []byte(parts[1])) {
		return "", ErrBadSig
	}

	fields := strings.SplitN(string(raw), "|", 2)
	if len(fields) != 2 {
		return "", ErrBadPayload
	}
	subject := strings.TrimSpace(fields[0])
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || subject == "" {
		return "", ErrBadPayload
	}
	if a.now().After(time.Unix(ts, 0)) {
		return "", ErrExpired
	}
	return subject, nil
}

func mac(secret []byte, msg string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
