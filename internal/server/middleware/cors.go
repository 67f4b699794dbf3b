package middleware

import (
	"net/http"
	"strings"

	"github.com/agentstation/dupewatch/pkg/constants"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	// AllowedOrigins lists origins echoed back. A single entry is sent
	// verbatim, which is how a fixed origin (or "*") is configured.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// DefaultCORSConfig returns the default CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{constants.DefaultCORSOrigin},
		AllowedMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept"},
	}
}

// CORS middleware adds CORS headers to responses.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(config.AllowedMethods, ",")
	headers := strings.Join(config.AllowedHeaders, ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// with a list the response depends on Origin, allowed or not
			if len(config.AllowedOrigins) > 1 {
				w.Header().Add("Vary", "Origin")
			}
			if origin := allowOrigin(r.Header.Get("Origin"), config.AllowedOrigins); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
func allowOrigin(origin string, allowed []string) string {
	switch len(allowed) {
	case 0:
		return constants.DefaultCORSOrigin
	case 1:
		return allowed[0]
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return origin
		}
	}
	return ""
}
