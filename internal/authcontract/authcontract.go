// Package authcontract validates bearer tokens on the websocket/API
// boundary. Token issuance is out of scope for this module (spec.md §1) —
// this package only verifies a token already issued elsewhere.
package authcontract

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every reason a token is rejected: bad signature,
// expired, malformed, wrong claims shape.
var ErrInvalidToken = errors.New("authcontract: invalid token")

// Claims is the subset of the token payload the core reads.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Validator checks bearer tokens against a shared secret (HMAC).
type Validator struct {
	secret []byte
}

// NewValidator builds a Validator from JWT_SECRET.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// ValidateToken parses and verifies raw, returning the embedded claims.
func (v *Validator) ValidateToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	return claims, nil
}
