// Package authmw provides HTTP middleware for shared-token authentication
// of alert ingestion requests.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenHeader carries the token for senders that cannot set Authorization,
// such as a Zabbix webhook media type with a fixed header list.
const TokenHeader = "X-Medic-Token"

// APIToken returns middleware that requires the shared token either as
// "Authorization: Bearer <token>" or in TokenHeader. Comparison uses
// constant-time equality.
func APIToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := presented(r)
			if !ok {
				deny(w, `{"error":"missing or malformed authorization header"}`)
				return
			}

			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				deny(w, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// presented extracts the caller's token. Authorization wins when both are set.
func presented(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if !strings.HasPrefix(auth, "Bearer ") {
			return "", false
		}
		return auth[len("Bearer "):], true
	}
	if tok := r.Header.Get(TokenHeader); tok != "" {
		return tok, true
	}
	return "", false
}

func deny(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="medic"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(body + "\n"))
}
