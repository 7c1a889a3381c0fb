package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/config"
)

// APIKeyHeader carries the API key. A bearer token in the Authorization
// header is accepted as well.
const APIKeyHeader = "X-API-Key"

// excludedPaths bypass authentication: liveness probes and metric scrapes.
var excludedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// isExcludedPath checks if the request path should bypass authentication
func isExcludedPath(path string) bool {
	return excludedPaths[path]
}

// NewMiddleware creates a new authentication middleware based on settings
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		return withExclusions(basicAuthMiddleware(settings.Basic)), nil
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		return withExclusions(apiKeyMiddleware(settings.APIKeys)), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// withExclusions wraps an auth middleware to skip auth for excluded paths
func withExclusions(authMiddleware func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authedHandler := authMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExcludedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			authedHandler.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	slog.Warn("Rejected request", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "reason", reason)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func basicAuthMiddleware(settings config.BasicAuthSettings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(settings.Username)) == 1
			passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(settings.Password)) == 1
			if !ok || !userMatch || !passMatch {
				w.Header().Set("WWW-Authenticate", `Basic realm="tender-kb"`)
				unauthorized(w, r, "invalid basic credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestAPIKey returns the key from X-API-Key or a bearer token.
func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func apiKeyMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestAPIKey(r)
			if key == "" {
				unauthorized(w, r, "missing api key")
				return
			}

			valid := false
			for _, validKey := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
					valid = true
					break
				}
			}

			if !valid {
				unauthorized(w, r, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
