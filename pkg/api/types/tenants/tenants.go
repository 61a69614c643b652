package tenants

import (
	"github.com/fleetforge/fleetforge/pkg/domain"
	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
	"github.com/fleetforge/fleetforge/pkg/utils/rfctime"
	"github.com/fleetforge/fleetforge/pkg/utils/slices"
)

type Environment struct {
	AccountId string `json:"accountId"`
	Region    string `json:"region"`
}

type StorageLocation struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

type Detail struct {
	Id          string            `json:"id"`
	Name        string            `json:"name"`
	Environment Environment       `json:"environment"`
	Storage     []StorageLocation `json:"storage"`

	// version only. The trust-scope secret never leaves the backend.
	TrustScopeVersion int `json:"trustScopeVersion"`

	Owner     string          `json:"owner"`
	Lifecycle string          `json:"lifecycle"`
	UpdatedAt rfctime.RFC3339 `json:"updatedAt"`
}

func ComposeDetail(t domain.Tenant) Detail {
	return Detail{
		Id:   t.Id,
		Name: t.Name,
		Environment: Environment{
			AccountId: t.Environment.AccountId,
			Region:    t.Environment.Region,
		},
		Storage: slices.Map(t.Storage, func(s domain.StorageLocation) StorageLocation {
			return StorageLocation{Kind: s.Kind, URI: s.URI}
		}),
		TrustScopeVersion: t.TrustScope.Version,
		Owner:             t.Owner,
		Lifecycle:         t.Lifecycle.String(),
		UpdatedAt:         rfctime.RFC3339(t.UpdatedAt),
	}
}

func (d *Detail) Equal(o *Detail) bool {
	if d == nil || o == nil {
		return (d == nil) && (o == nil)
	}
	return d.Id == o.Id &&
		d.Name == o.Name &&
		d.Environment == o.Environment &&
		cmp.SliceContentEq(d.Storage, o.Storage) &&
		d.TrustScopeVersion == o.TrustScopeVersion &&
		d.Owner == o.Owner &&
		d.Lifecycle == o.Lifecycle &&
		d.UpdatedAt.Equal(&o.UpdatedAt)
}

// request body of tenant registration.
type RegisterSpec struct {
	Name        string            `json:"name"`
	Environment Environment       `json:"environment"`
	ExternalId  string            `json:"externalId"`
	Storage     []StorageLocation `json:"storage"`
}

// request body of trust-scope rotation.
type RotateSpec struct {
	NewExternalId string `json:"newExternalId"`
}

type RotateResult struct {
	TrustScopeVersion int `json:"trustScopeVersion"`
}

// request body of role granting.
type GrantSpec struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

type Grant struct {
	Subject  string `json:"subject"`
	TenantId string `json:"tenantId"`
	Role     string `json:"role"`
}

func ComposeGrant(g domain.RoleGrant) Grant {
	return Grant{
		Subject:  g.Subject,
		TenantId: g.TenantId,
		Role:     g.Role.String(),
	}
}
