package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"intake.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}

// streamPaths accept the token as ?access_token= since browsers cannot set
// headers on EventSource or WebSocket handshakes.
var streamPaths = []string{
	"/v1/notifications/stream",
	"/ws",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if !auth.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil && isStreamPath(r.URL.Path) {
			if q := strings.TrimSpace(r.URL.Query().Get("access_token")); q != "" {
				token, err = q, nil
			}
		}
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		uid, err := claims.UserID()
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token subject")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), uid, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func isStreamPath(path string) bool {
	for _, p := range streamPaths {
		if path == p {
			return true
		}
	}
	return false
}
