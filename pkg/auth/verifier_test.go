package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
)

func TestJWTVerifier(t *testing.T) {
	key := []byte("test-sign-key")

	sign := func(t *testing.T, method jwt.SigningMethod, key []byte, claims jwt.MapClaims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("token not signed: %+v", err)
		}
		return token
	}

	t.Run("it accepts a well-signed token and extracts its assertion", func(t *testing.T) {
		expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
		token := sign(t, jwt.SigningMethodHS256, key, jwt.MapClaims{
			"sub":    "alice@example",
			"groups": []string{"ml-team", "ops-team"},
			"exp":    expiresAt.Unix(),
		})

		testee := auth.NewJWTVerifier(key)
		assertion, err := testee.Verify(token)
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		if assertion.Subject != "alice@example" {
			t.Errorf("unexpected subject: %s", assertion.Subject)
		}
		if !cmp.SliceEq(assertion.Groups, []string{"ml-team", "ops-team"}) {
			t.Errorf("unexpected groups: %+v", assertion.Groups)
		}
		if !assertion.ExpiresAt.Equal(expiresAt) {
			t.Errorf("unexpected expiry: %s", assertion.ExpiresAt)
		}
	})

	t.Run("it rejects a token signed with another key", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, []byte("other-key"), jwt.MapClaims{
			"sub": "alice@example",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		testee := auth.NewJWTVerifier(key)
		if _, err := testee.Verify(token); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("unexpected error: %+v", err)
		}
	})

	t.Run("it rejects an expired token as expired", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, key, jwt.MapClaims{
			"sub": "alice@example",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		testee := auth.NewJWTVerifier(key)
		if _, err := testee.Verify(token); !errors.Is(err, auth.ErrExpiredToken) {
			t.Errorf("unexpected error: %+v", err)
		}
	})

	t.Run("it rejects a token without a subject", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, key, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		testee := auth.NewJWTVerifier(key)
		if _, err := testee.Verify(token); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("unexpected error: %+v", err)
		}
	})

	t.Run("it rejects a token signed with a method other than HS256", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS512, key, jwt.MapClaims{
			"sub": "alice@example",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		testee := auth.NewJWTVerifier(key)
		if _, err := testee.Verify(token); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("unexpected error: %+v", err)
		}
	})

	t.Run("it rejects garbage", func(t *testing.T) {
		testee := auth.NewJWTVerifier(key)
		if _, err := testee.Verify("not.a.token"); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("unexpected error: %+v", err)
		}
	})
}
