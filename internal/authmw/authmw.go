// Package authmw guards the local control API with a shared bearer token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// QueryParam carries the token on websocket upgrades, where browser clients
// cannot set an Authorization header.
const QueryParam = "access_token"

// BearerToken returns middleware that requires the request to present token,
// either as "Authorization: Bearer <token>" or, for websocket upgrades only,
// as the access_token query parameter. An empty token disables the check.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := presented(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presented(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		tok, ok := strings.CutPrefix(auth, "Bearer ")
		return tok, ok
	}
	if isUpgrade(r) {
		if tok := r.URL.Query().Get(QueryParam); tok != "" {
			return tok, true
		}
	}
	return "", false
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="ambient"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + msg + `"}`))
}
