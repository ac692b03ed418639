package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any JWT that fails verification. Signature
// mismatch, malformed structure, and expiry are deliberately not
// distinguished to the caller.
var ErrInvalidToken = errors.New("invalid token")

// CreateAccessToken signs the given claims plus an exp claim with the server
// secret. A zero ttl uses the configured access token lifetime.
func (m *Manager) CreateAccessToken(claims map[string]any, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = m.tokenTTL
	}

	mapClaims := jwt.MapClaims{}
	for k, v := range claims {
		mapClaims[k] = v
	}
	mapClaims["exp"] = jwt.NewNumericDate(time.Now().Add(ttl))

	token := jwt.NewWithClaims(m.signingMethod, mapClaims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies a JWT's signature and expiry and returns its claims.
func (m *Manager) VerifyToken(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr,
		func(token *jwt.Token) (interface{}, error) {
			return m.secretKey, nil
		},
		jwt.WithValidMethods([]string{m.signingMethod.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
