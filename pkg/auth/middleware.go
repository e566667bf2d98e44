package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// UserHeader names the acting user on API requests. Identity-provider
// integration happens upstream; this service trusts the gateway header.
const UserHeader = "X-Veritas-User"

// Middleware provides HTTP middleware that resolves the acting user.
type Middleware struct {
	logger *zap.Logger
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(logger *zap.Logger) *Middleware {
	return &Middleware{logger: logger}
}

// RequireUser rejects requests without an acting user and stores the user
// in the request context for downstream handlers.
func (m *Middleware) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			m.logger.Debug("Request without acting user",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method))
			m.unauthorized(w, "Acting user required")
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
