// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// Realm is advertised in the WWW-Authenticate challenge.
const Realm = "herald"

// BearerToken returns middleware that validates the Authorization header
// carries a Bearer token matching the expected value. The scheme is
// matched case-insensitively; the token is compared in constant time.
// It panics on an empty token.
func BearerToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		panic(xerrors.New("bearer token must not be empty"))
	}
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := parseBearer(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, `Bearer realm="`+Realm+`"`, "missing or malformed authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				log.FromContext(r.Context()).Warn(r.Context(), "rejected api request with invalid token",
					"path", r.URL.Path,
				)
				unauthorized(w, `Bearer realm="`+Realm+`", error="invalid_token"`, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// parseBearer extracts the token from an Authorization header value.
func parseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, challenge, msg string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
