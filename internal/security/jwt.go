// Package security implements bearer-token authentication for the
// toolproxyd API.
package security

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no token is presented.
	ErrMissingToken = errors.New("security: missing authorization token")
	// ErrInvalidToken is returned when the JWT is malformed or its signature is invalid.
	ErrInvalidToken = errors.New("security: invalid token")
	// ErrExpiredToken is returned when the JWT has expired.
	ErrExpiredToken = errors.New("security: token expired")
)

// Claims are the validated JWT claims for API callers.
type Claims struct {
	Subject   string
	Role      string
	IssuedAt  int64
	ExpiresAt int64
}

type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed HS256 JWT for the given subject and role.
func GenerateToken(subject, role string, secret []byte, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates a JWT string, returning its claims.
func ValidateToken(tokenStr string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	jc, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return &Claims{
		Subject:   jc.Subject,
		Role:      jc.Role,
		IssuedAt:  jc.IssuedAt.Unix(),
		ExpiresAt: jc.ExpiresAt.Unix(),
	}, nil
}

// SecretFromEnv returns the JWT secret from TOOLPROXYD_JWT_SECRET, or
// nil when unset (dev mode: authentication disabled).
func SecretFromEnv() []byte {
	s := os.Getenv("TOOLPROXYD_JWT_SECRET")
	if s == "" {
		return nil
	}
	return []byte(s)
}
