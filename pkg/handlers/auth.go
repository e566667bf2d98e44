package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/audit"
	"github.com/veritas-qms/veritas-engine/pkg/auth"
)

// TokenIssuer mints re-authentication tokens. Implemented by auth.TokenVerifier.
type TokenIssuer interface {
	Issue(user string, ttl time.Duration) (string, error)
}

// SigningTokenRequest for POST /api/auth/signing-token
type SigningTokenRequest struct {
	Password string `json:"password"`
}

// SigningTokenResponse carries a short-lived token accepted as the secret
// of a signing request.
type SigningTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthHandler exchanges a password for a signing token so clients do not
// hold the password between drafting and signing.
type AuthHandler struct {
	passwords auth.CredentialVerifier
	issuer    TokenIssuer
	ttl       time.Duration
	security  *audit.SecurityAuditor
	now       func() time.Time
	logger    *zap.Logger
}

// NewAuthHandler creates a new auth handler. passwords must only accept
// passwords, so a token cannot be exchanged for a fresh one.
func NewAuthHandler(
	passwords auth.CredentialVerifier,
	issuer TokenIssuer,
	ttl time.Duration,
	security *audit.SecurityAuditor,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		passwords: passwords,
		issuer:    issuer,
		ttl:       ttl,
		security:  security,
		now:       time.Now,
		logger:    logger,
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/auth/signing-token", authMiddleware.RequireUser(h.SigningToken))
}

// SigningToken handles POST /api/auth/signing-token
func (h *AuthHandler) SigningToken(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	var req SigningTokenRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	if !h.passwords.Verify(r.Context(), user, req.Password) {
		h.security.LogSignatureAuthFailure(r.Context(), user, "")
		writeError(w, h.logger, http.StatusUnauthorized, "authentication_failed", "Invalid credentials")
		return
	}

	expiresAt := h.now().Add(h.ttl).UTC()
	token, err := h.issuer.Issue(user, h.ttl)
	if err != nil {
		h.logger.Error("Failed to issue signing token", zap.String("user", user), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "Failed to issue token")
		return
	}
	writeOK(w, h.logger, http.StatusOK, SigningTokenResponse{Token: token, ExpiresAt: expiresAt})
}
