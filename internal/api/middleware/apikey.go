package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyAuth guards the administrative routes.
//
// Requests must include one of the configured keys via:
//   - Authorization: Bearer <key>
//   - X-API-Key: <key>
//
// Keys come from ADMIN_API_KEYS as a comma-separated list. With no keys
// configured the guarded routes are closed, not open: the admin surface can
// reset the credential pool.
type APIKeyAuth struct {
	keys [][]byte
}

// NewAPIKeyAuth creates the middleware from a list of keys. Blank keys are ignored.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

// Enabled returns whether any admin key is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.keys) > 0
}

// Middleware returns an http.Handler middleware that enforces API key auth.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			respondAuthError(w, http.StatusForbidden, "forbidden", "Admin API disabled. Set ADMIN_API_KEYS to enable it.")
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondAuthError(w, http.StatusUnauthorized, "unauthorized", "API key required. Set Authorization: Bearer <key> or X-API-Key header.")
			return
		}
		if !a.validateKey(apiKey) {
			respondAuthError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateKey compares against every key so timing does not reveal which one matched.
func (a *APIKeyAuth) validateKey(candidate string) bool {
	ok := 0
	for _, key := range a.keys {
		ok |= subtle.ConstantTimeCompare([]byte(candidate), key)
	}
	return ok == 1
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func respondAuthError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="storefront-recommender"`)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}
