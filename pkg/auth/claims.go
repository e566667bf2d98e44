// Package auth verifies the credentials a user presents when applying an
// electronic signature, and carries the acting user through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserKey is the context key for the acting user name.
	UserKey contextKey = "user"
)

// SigningPurpose is the purpose claim required on re-authentication tokens.
const SigningPurpose = "e-signature"

// Claims is the payload of a short-lived re-authentication token.
// The subject is the user the token was issued to.
type Claims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose,omitempty"`
}

// WithUser returns a context carrying the acting user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the acting user from the context.
// Returns empty string and false if no user is present.
func GetUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(UserKey).(string)
	if !ok || user == "" {
		return "", false
	}
	return user, true
}

// RequireUserFromContext extracts the acting user and returns an error if not found.
func RequireUserFromContext(ctx context.Context) (string, error) {
	user, ok := GetUser(ctx)
	if !ok {
		return "", errors.New("user not found in context")
	}
	return user, nil
}

// normalizeUser is the canonical form used to compare user names.
func normalizeUser(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

func validateClaims(c *Claims, user string) error {
	if c.Purpose != SigningPurpose {
		return fmt.Errorf("token purpose %q is not %q", c.Purpose, SigningPurpose)
	}
	if normalizeUser(c.Subject) != normalizeUser(user) {
		return errors.New("token subject does not match signer")
	}
	return nil
}
