package db

import (
	"context"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type GrantInterface interface {
	// Grant upserts a (subject, tenant, role) triple.
	//
	// Granting SuperAdmin is rejected with ErrInvariantViolation: the
	// super-user bypass is a code path, never a stored row.
	Grant(ctx context.Context, grant domain.RoleGrant) error

	// Revoke removes the grant of subject on tenant. Removing a grant that
	// does not exist is a no-op.
	Revoke(ctx context.Context, subject string, tenantId string) error

	// GrantsFor lists all grants of a subject.
	GrantsFor(ctx context.Context, subject string) ([]domain.RoleGrant, error)

	// RoleOn reports the role of subject on tenant.
	//
	// Returns
	//
	// - domain.Role: the granted role. Zero value when not granted.
	//
	// - bool: whether a grant exists.
	//
	// - error
	RoleOn(ctx context.Context, subject string, tenantId string) (domain.Role, bool, error)
}
