package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

// TenantClaim is the claim carrying the tenant id.
const TenantClaim = "tid"

// GenerateTenantToken creates a signed HS256 credential for a tenant.
// The token expires after the specified duration.
func GenerateTenantToken(secret []byte, tenantID string, duration time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("tenant secret is empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		TenantClaim: tenantID,
		"iat":       now.Unix(),
		"exp":       now.Add(duration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// HashToken computes a SHA-256 hash of the token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateToken parses and validates a token string and returns the token if valid.
func ValidateToken(secret []byte, tokenString string) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Ensure that the token's signing method is HMAC.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
}

// ExtractTenantID returns the tid claim of a valid token. Tokens without
// an expiry are rejected.
func ExtractTenantID(secret []byte, tokenString string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("tenant secret is empty")
	}
	token, err := ValidateToken(secret, tokenString)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if !claims.VerifyExpiresAt(time.Now().Unix(), true) {
		return "", errors.New("token has no valid 'exp' claim")
	}

	tid, ok := claims[TenantClaim].(string)
	if !ok || tid == "" {
		return "", errors.New("token does not contain a valid 'tid' claim")
	}
	return tid, nil
}
