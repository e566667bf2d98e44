package auth

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks the secret a user presents when signing.
// Implementations must not log or retain the secret.
type CredentialVerifier interface {
	Verify(ctx context.Context, user, secret string) bool
}

// PasswordVerifier checks passwords against configured bcrypt hashes.
type PasswordVerifier struct {
	hashes map[string][]byte
	logger *zap.Logger
}

// NewPasswordVerifier creates a verifier from user -> bcrypt hash pairs.
// User names are matched case-insensitively.
func NewPasswordVerifier(hashes map[string]string, logger *zap.Logger) *PasswordVerifier {
	v := &PasswordVerifier{
		hashes: make(map[string][]byte, len(hashes)),
		logger: logger.Named("password-verifier"),
	}
	for user, hash := range hashes {
		v.hashes[normalizeUser(user)] = []byte(hash)
	}
	return v
}

var _ CredentialVerifier = (*PasswordVerifier)(nil)

// Verify reports whether secret matches the stored hash for user.
func (v *PasswordVerifier) Verify(ctx context.Context, user, secret string) bool {
	if secret == "" {
		return false
	}
	hash, ok := v.hashes[normalizeUser(user)]
	if !ok {
		v.logger.Debug("No password configured for user", zap.String("user", user))
		return false
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		v.logger.Debug("Password mismatch", zap.String("user", user))
		return false
	}
	return true
}

// ChainVerifier accepts a credential when any of its verifiers does.
// Verifiers are consulted in order and the first acceptance wins.
type ChainVerifier []CredentialVerifier

var _ CredentialVerifier = ChainVerifier(nil)

// Verify tries each verifier in order.
func (c ChainVerifier) Verify(ctx context.Context, user, secret string) bool {
	for _, v := range c {
		if ctx.Err() != nil {
			return false
		}
		if v.Verify(ctx, user, secret) {
			return true
		}
	}
	return false
}

// VerifierFunc adapts a function to CredentialVerifier.
type VerifierFunc func(ctx context.Context, user, secret string) bool

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, user, secret string) bool {
	return f(ctx, user, secret)
}
