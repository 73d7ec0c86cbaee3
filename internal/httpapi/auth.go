package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const apiKeyHeader = "X-Browser-Use-API-Key"

// requireAPIKey accepts a configured key, or any non-empty key when none are
// configured.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if key == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing "+apiKeyHeader+" header")
			return
		}
		if !s.validKey(key) {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validKey(key string) bool {
	if len(s.cfg.APIKeys) == 0 {
		return true
	}
	ok := false
	for _, k := range s.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}
