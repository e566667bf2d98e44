package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const tokenIssuer = "veritas-engine"

// TokenVerifier accepts short-lived HS256 re-authentication tokens whose
// subject is the signing user.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
	logger *zap.Logger
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret string, logger *zap.Logger) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("token verifier requires a signing secret")
	}
	return &TokenVerifier{
		secret: []byte(secret),
		now:    time.Now,
		logger: logger.Named("token-verifier"),
	}, nil
}

var _ CredentialVerifier = (*TokenVerifier)(nil)

// Issue signs a token for user valid for ttl.
func (v *TokenVerifier) Issue(user string, ttl time.Duration) (string, error) {
	if user == "" {
		return "", errors.New("user is required")
	}
	now := v.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Purpose: SigningPurpose,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify reports whether secret is a valid, unexpired token issued to user.
func (v *TokenVerifier) Verify(ctx context.Context, user, secret string) bool {
	claims, err := v.parse(secret)
	if err != nil {
		v.logger.Debug("Token rejected", zap.String("user", user), zap.Error(err))
		return false
	}
	if err := validateClaims(claims, user); err != nil {
		v.logger.Debug("Token rejected", zap.String("user", user), zap.Error(err))
		return false
	}
	return true
}

func (v *TokenVerifier) parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
