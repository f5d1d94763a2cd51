// Package jwt issues and verifies the HS256 session tokens handed to API clients.
package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every session token and required when verifying.
const Issuer = "onedeploy"

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims is the payload of a session token. The user id travels as the
// registered subject.
type SessionClaims struct {
	Login string `json:"login,omitempty"`
	jwtlib.RegisteredClaims
}

// UserID returns the subject of the token.
func (c SessionClaims) UserID() string {
	return c.Subject
}

// Signer issues and verifies session tokens with a shared secret.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner returns a Signer whose tokens live for ttl.
func NewSigner(secret string, ttl time.Duration) Signer {
	return Signer{key: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the user and returns it with its expiry.
func (s Signer) Issue(userID, login string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("user id required")
	}
	if len(s.key) == 0 {
		return "", time.Time{}, errors.New("signing secret not configured")
	}
	issued := s.now()
	expires := issued.Add(s.ttl)
	claims := SessionClaims{
		Login: login,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(issued),
			ExpiresAt: jwtlib.NewNumericDate(expires),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (s Signer) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (any, error) {
		return s.key, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(Issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID() == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
