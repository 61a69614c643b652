package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
)

type TenantLifecycle string

const (
	// This Tenant accepts new jobs and deployments.
	TenantActive TenantLifecycle = "active"

	// Deletion was requested but non-terminal jobs/deployments exist.
	TenantDeletionBlocked TenantLifecycle = "deletion-blocked"

	// This Tenant is gone. Terminal.
	TenantDeleted TenantLifecycle = "deleted"
)

func (tl TenantLifecycle) String() string {
	return string(tl)
}

func AsTenantLifecycle(s string) (TenantLifecycle, error) {
	switch s {
	case string(TenantActive):
		return TenantActive, nil
	case string(TenantDeletionBlocked):
		return TenantDeletionBlocked, nil
	case string(TenantDeleted):
		return TenantDeleted, nil
	default:
		return "", fmt.Errorf("'%s' is not TenantLifecycle", s)
	}
}

func (tl TenantLifecycle) Terminal() bool {
	return tl == TenantDeleted
}

// binding to the external execution environment owned by the tenant.
type Environment struct {
	// account-equivalent identity of the environment.
	AccountId string

	// region-equivalent partition within the account.
	Region string
}

// secret shared with the external environment to prove the control plane
// acts on behalf of this tenant.
//
// Version is bumped on every rotation; credential sessions are keyed by it.
type TrustScope struct {
	ExternalId string
	Version    int
}

type StorageLocation struct {
	// storage kind: "dataset", "model", "artifact", ...
	Kind string

	// opaque locator in the tenant's environment.
	URI string
}

type Tenant struct {
	Id   string
	Name string

	Environment Environment
	TrustScope  TrustScope
	Storage     []StorageLocation

	// subject of the principal owning this tenant.
	Owner string

	Lifecycle TenantLifecycle

	UpdatedAt time.Time
}

func (t Tenant) Equal(other Tenant) bool {
	return t.Id == other.Id &&
		t.Name == other.Name &&
		t.Environment == other.Environment &&
		t.TrustScope == other.TrustScope &&
		cmp.SliceContentEq(t.Storage, other.Storage) &&
		t.Owner == other.Owner &&
		t.Lifecycle == other.Lifecycle
}

// parameter to register a new tenant.
type TenantSpec struct {
	Name        string
	Environment Environment

	// initial trust-scope secret. Version starts at 1.
	ExternalId string

	Storage []StorageLocation
	Owner   string
}

var (
	// the tenant has jobs or deployments not in a terminal state yet.
	ErrTenantHasDependents = errors.New("tenant has non-terminal dependents")

	ErrInvalidTenantLifecycleChanging = errors.New("cannot change tenant lifecycle")
)

func NewErrInvalidTenantLifecycleChanging(from, to TenantLifecycle) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTenantLifecycleChanging, from, to)
}
