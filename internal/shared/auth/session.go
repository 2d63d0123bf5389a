// Package auth verifies the session tokens the board signs for every
// integration request.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"harvestsync/internal/shared/flexid"
)

var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims are the claims carried by a board integration request.
type SessionClaims struct {
	AccountID       flexid.ID `json:"accountId"`
	UserID          flexid.ID `json:"userId"`
	ShortLivedToken string    `json:"shortLivedToken"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks the HS256 signature and returns the claims. The token may be
// raw or prefixed with "Bearer ".
func (v *Verifier) Verify(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.AccountID.IsZero() || claims.UserID.IsZero() {
		return nil, fmt.Errorf("%w: missing account or user", ErrInvalidToken)
	}
	return claims, nil
}

// Sign issues a token with the same secret. Used by tests and the admin CLI.
func (v *Verifier) Sign(claims SessionClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
