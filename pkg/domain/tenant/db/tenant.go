package db

import (
	"context"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type TenantInterface interface {
	// Register creates a new tenant in lifecycle "active".
	//
	// Returns
	//
	// - string: id of the new tenant.
	//
	// - error
	Register(ctx context.Context, spec domain.TenantSpec) (string, error)

	// Get tenants by ids. Missing ids are left out of the map, not an error.
	Get(ctx context.Context, ids []string) (map[string]domain.Tenant, error)

	// Find ids of all tenants not deleted, ordered by name.
	Find(ctx context.Context) ([]string, error)

	// UpdateStorage replaces the storage location descriptors of a tenant.
	UpdateStorage(ctx context.Context, id string, storage []domain.StorageLocation) error

	// RotateTrustScope replaces the trust-scope secret and bumps its version.
	//
	// Credential sessions keyed by the old version become unobtainable.
	//
	// Returns
	//
	// - int: the new trust-scope version.
	//
	// - error: ErrMissing when the tenant is not found.
	RotateTrustScope(ctx context.Context, id string, newExternalId string) (int, error)

	// Delete transitions a tenant to "deleted".
	//
	// The check "no non-terminal jobs/deployments" and the lifecycle write
	// happen in one transaction, so a job created concurrently cannot slip
	// between check and write. A tenant with dependents is moved to
	// "deletion-blocked" instead, and ErrTenantHasDependents is returned.
	Delete(ctx context.Context, id string) error
}
