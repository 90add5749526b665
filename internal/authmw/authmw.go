// Package authmw provides HTTP middleware for the shared-secret schemes used by
// operators, the cron scheduler and inbound platform webhooks.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// BearerToken returns middleware that accepts a request when its Authorization
// header carries a Bearer token equal to one of tokens. Empty tokens are ignored;
// with no usable token every request is rejected.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	accepted := nonEmpty(tokens)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				deny(w, "missing or malformed authorization header")
				return
			}
			if !matchAny([]byte(auth[len(bearerPrefix):]), accepted) {
				deny(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SharedSecretHeader returns middleware that requires header to equal secret.
// An empty secret disables the check, for platforms where it is optional.
func SharedSecretHeader(header, secret string) func(http.Handler) http.Handler {
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get(header)), expected) != 1 {
				deny(w, "invalid "+strings.ToLower(header))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// matchAny compares against every candidate so timing does not reveal which one matched.
func matchAny(got []byte, accepted [][]byte) bool {
	ok := 0
	for _, want := range accepted {
		ok |= subtle.ConstantTimeCompare(got, want)
	}
	return ok == 1
}

func nonEmpty(tokens []string) [][]byte {
	out := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, []byte(t))
		}
	}
	return out
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
