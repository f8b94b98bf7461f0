package daemon

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// authMiddleware returns a middleware that validates bearer tokens.
// If token is empty, no authentication is required and all requests pass through.
// Otherwise, requests must include "Authorization: Bearer <token>" header.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w)
				return
			}
			supplied := strings.TrimPrefix(auth, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tenk"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","kind":"unauthorized"}` + "\n"))
}

const authCookie = "tenk_auth"

// webAuthValue is the cookie value proving the browser once presented token.
// The token itself never leaves the login form.
func webAuthValue(token string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte("tenk web session"))
	return hex.EncodeToString(mac.Sum(nil))
}

// webAuthorized accepts either the login cookie or a bearer header.
func webAuthorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		supplied := strings.TrimPrefix(auth, "Bearer ")
		return subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) == 1
	}
	cookie, err := r.Cookie(authCookie)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(cookie.Value), []byte(webAuthValue(token)))
}
