// Package middleware contains the HTTP middleware of the local API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the local API with a static bearer token. The agent
// fronts a single user, so a shared token is sufficient; an empty token
// disables the check for local development.
type BearerAuth struct {
	token string
}

// NewBearerAuth creates the middleware for the given token.
func NewBearerAuth(token string) *BearerAuth {
	return &BearerAuth{token: token}
}

// Middleware rejects requests without the expected bearer token.
func (a *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
