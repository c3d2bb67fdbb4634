package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"
)

type contextKey string

const AdminSubjectKey contextKey = "admin_subject"

// TokenVerifier checks a bearer token and returns its subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// RequireAdmin rejects requests without a valid "Authorization: Bearer" token
// and stores the token subject in the request context.
func RequireAdmin(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pollcache"`)
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			subject, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("admin token rejected")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AdminSubjectKey, subject)))
		})
	}
}

// AdminSubject returns the subject stored by RequireAdmin.
func AdminSubject(ctx context.Context) string {
	s, _ := ctx.Value(AdminSubjectKey).(string)
	return s
}
