// Package handlers holds the echo handlers of the forged API daemon.
//
// Every tenant-scoped handler goes through authorize() before touching any
// data, so each request leaves exactly one audit event for its access
// decision.
package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	apierr "github.com/fleetforge/fleetforge/pkg/api/types/errors"
	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/domain"
)

// authorize resolves the request's principal and asks the guard.
//
// The returned error, when not nil, is already an echo HTTP error and can be
// returned from the handler as is.
func authorize(
	c echo.Context,
	guard *auth.Guard,
	tenantId string,
	action auth.Action,
	resource string,
) (domain.Principal, auth.Decision, error) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		return domain.Principal{}, auth.Decision{}, apierr.Unauthorized("login required", nil)
	}

	decision, err := guard.Authorize(c.Request().Context(), principal, tenantId, action, resource)
	if err != nil {
		if errors.Is(err, auth.ErrDenied) {
			return principal, decision, apierr.Forbidden(decision.AuditSeq, err)
		}
		return principal, decision, apierr.InternalServerError(err)
	}
	return principal, decision, nil
}
