package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

// the token is malformed, unsigned or signed with the wrong key.
var ErrInvalidToken = errors.New("invalid token")

// the token was valid once but its lifetime is over.
var ErrExpiredToken = errors.New("expired token")

// what the identity provider asserts about a caller.
type Assertion struct {
	Subject   string
	Groups    []string
	ExpiresAt time.Time
}

type Verifier interface {
	// Verify checks token and extracts its assertion.
	//
	// Returns ErrInvalidToken or ErrExpiredToken (possibly wrapped) when the
	// token does not hold.
	Verify(token string) (Assertion, error)
}

type claims struct {
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

type jwtVerifier struct {
	key []byte
}

// NewJWTVerifier verifies HMAC-SHA256 signed tokens with key.
func NewJWTVerifier(key []byte) Verifier {
	return &jwtVerifier{key: key}
}

func (v *jwtVerifier) Verify(token string) (Assertion, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(
		token, c,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return v.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Assertion{}, xe.Wrap(ErrExpiredToken)
		}
		return Assertion{}, xe.WrapWithNote(err.Error(), ErrInvalidToken)
	}

	if c.Subject == "" {
		return Assertion{}, xe.WrapWithNote("no subject", ErrInvalidToken)
	}

	a := Assertion{Subject: c.Subject, Groups: c.Groups}
	if c.ExpiresAt != nil {
		a.ExpiresAt = c.ExpiresAt.Time
	}
	return a, nil
}
