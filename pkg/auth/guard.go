package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetforge/fleetforge/pkg/domain"
	kaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db"
	kgrant "github.com/fleetforge/fleetforge/pkg/domain/grant/db"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

// the guard denied the action. Wraps carry the audit seq.
var ErrDenied = errors.New("denied")

// what the guard decided about one (principal, tenant, action).
type Decision struct {
	Allowed bool

	// true only when allowed through the SuperAdmin bypass.
	SuperUser bool

	// seq of the audit event recording this decision. It is the correlation
	// id handed back to the caller, allowed or denied.
	AuditSeq int64
}

// Guard is the single authorization entry point.
//
// Every call, allowed or denied, appends exactly one audit event before it
// returns. A call that cannot be audited does not happen: audit failure fails
// the authorization itself.
type Guard struct {
	grants kgrant.GrantInterface
	audit  kaudit.AuditInterface
}

func NewGuard(grants kgrant.GrantInterface, audit kaudit.AuditInterface) *Guard {
	return &Guard{grants: grants, audit: audit}
}

// Authorize decides whether principal may do action on tenantId.
//
// SuperAdmin is allowed everything, with the SuperUser flag set on the audit
// event. Everyone else needs a stored grant on the tenant whose role the
// action's permission table names. Denial is a Decision with Allowed false and
// an ErrDenied, never a silent pass.
func (g *Guard) Authorize(
	ctx context.Context,
	principal domain.Principal,
	tenantId string,
	action Action,
	resource string,
) (Decision, error) {
	if principal.GlobalRole == domain.SuperAdmin {
		seq, err := g.record(ctx, principal, tenantId, action, resource, domain.OutcomeAllowed, true)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true, SuperUser: true, AuditSeq: seq}, nil
	}

	role, found, err := g.grants.RoleOn(ctx, principal.Subject, tenantId)
	if err != nil {
		return Decision{}, xe.Wrap(err)
	}

	if found && action.Permits(role) {
		seq, err := g.record(ctx, principal, tenantId, action, resource, domain.OutcomeAllowed, false)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true, AuditSeq: seq}, nil
	}

	seq, err := g.record(ctx, principal, tenantId, action, resource, domain.OutcomeDenied, false)
	if err != nil {
		return Decision{}, err
	}
	return Decision{AuditSeq: seq}, xe.Wrap(fmt.Errorf(
		"%w: %s on tenant %s (correlation id %d)", ErrDenied, action, tenantId, seq,
	))
}

// FilterTenants narrows candidates to the tenants principal may do action on.
//
// SuperAdmin keeps everything. One audit event is recorded for the whole
// filtering, not one per tenant.
func (g *Guard) FilterTenants(
	ctx context.Context,
	principal domain.Principal,
	candidates []string,
	action Action,
) ([]string, error) {
	if principal.GlobalRole == domain.SuperAdmin {
		if _, err := g.record(ctx, principal, "", action, "", domain.OutcomeAllowed, true); err != nil {
			return nil, err
		}
		return candidates, nil
	}

	grants, err := g.grants.GrantsFor(ctx, principal.Subject)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	roleOn := map[string]domain.Role{}
	for _, grant := range grants {
		roleOn[grant.TenantId] = grant.Role
	}

	filtered := []string{}
	for _, tenantId := range candidates {
		role, ok := roleOn[tenantId]
		if !ok || !action.Permits(role) {
			continue
		}
		filtered = append(filtered, tenantId)
	}

	if _, err := g.record(ctx, principal, "", action, "", domain.OutcomeAllowed, false); err != nil {
		return nil, err
	}
	return filtered, nil
}

func (g *Guard) record(
	ctx context.Context,
	principal domain.Principal,
	tenantId string,
	action Action,
	resource string,
	outcome domain.AuditOutcome,
	superUser bool,
) (int64, error) {
	seq, err := g.audit.Append(ctx, domain.AuditEvent{
		Subject:   principal.Subject,
		TenantId:  tenantId,
		Action:    action.String(),
		Resource:  resource,
		Outcome:   outcome,
		SuperUser: superUser,
	})
	if err != nil {
		return 0, xe.WrapWithNote("authorization not audited", err)
	}
	return seq, nil
}
