package auth

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	apierr "github.com/fleetforge/fleetforge/pkg/api/types/errors"
	"github.com/fleetforge/fleetforge/pkg/domain"
)

const principalContextKey = "fleetforge/principal"

// Middleware resolves the bearer token of each request into a Principal and
// stores it on the echo context. Requests without a resolvable identity are
// rejected here; handlers downstream can assume PrincipalFrom succeeds.
func Middleware(resolver *Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				return apierr.Unauthorized("no bearer token", nil)
			}

			principal, err := resolver.Resolve(c.Request().Context(), token)
			if err != nil {
				if errors.Is(err, ErrExpiredToken) {
					return apierr.Unauthorized("token expired", err)
				}
				return apierr.Unauthorized("token not accepted", err)
			}

			SetPrincipal(c, principal)
			return next(c)
		}
	}
}

// SetPrincipal stores principal where PrincipalFrom finds it.
func SetPrincipal(c echo.Context, principal domain.Principal) {
	c.Set(principalContextKey, principal)
}

// PrincipalFrom reads the Principal stored by Middleware.
func PrincipalFrom(c echo.Context) (domain.Principal, bool) {
	principal, ok := c.Get(principalContextKey).(domain.Principal)
	return principal, ok
}
