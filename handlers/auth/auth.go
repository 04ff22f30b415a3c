// Package auth verifies the bearer tokens issued by the external account
// service. Only the subject claim matters to the relay; it becomes the
// caller's identity.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cowrite-server/core"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("token verification is not configured")
)

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Login string `json:"login,omitempty"`
	Name  string `json:"name,omitempty"`
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) ParseJWT(tokenString string) (*AppClaims, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		if strings.TrimSpace(claims.Subject) == "" {
			return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Identify resolves a raw token to an identity. An empty token is the
// anonymous identity.
func (v *Verifier) Identify(tokenString string) (core.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", nil
	}
	claims, err := v.ParseJWT(tokenString)
	if err != nil {
		return "", err
	}
	return core.Identity(claims.Subject), nil
}

// IssueToken signs a token for subject. The account service issues real
// tokens; this serves local tooling and tests.
func (v *Verifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Login: subject,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
