// Package testhelpers provides utilities for testing veritas-engine components.
package testhelpers

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateTestJWT creates an HS256 token with the given subject, purpose and
// expiry, signed with secret. Issuer is "veritas-engine".
func GenerateTestJWT(secret, sub, purpose string, expiresAt time.Time) string {
	claims := jwt.MapClaims{
		"sub":     sub,
		"iss":     "veritas-engine",
		"iat":     expiresAt.Add(-5 * time.Minute).Unix(),
		"exp":     expiresAt.Unix(),
		"purpose": purpose,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(fmt.Sprintf("sign test token: %v", err))
	}
	return signed
}

// GenerateUnsignedJWT creates a token with a valid structure but no
// signature (alg: none). Verifiers must reject it.
func GenerateUnsignedJWT(sub string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString(
		[]byte(fmt.Sprintf(`{"sub":"%s","iss":"veritas-engine","purpose":"e-signature","exp":%d}`,
			sub, time.Now().Add(time.Hour).Unix())))
	return fmt.Sprintf("%s.%s.", header, payload)
}
