package auth

import (
	"context"

	"github.com/fleetforge/fleetforge/pkg/domain"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

// Resolver turns a bearer token into a Principal.
//
// The role mapping is fixed at construction; a group not in the mapping
// contributes nothing, and a token with no mapped group resolves to Viewer.
type Resolver struct {
	verifier Verifier
	mapping  map[string]domain.Role
}

func NewResolver(verifier Verifier, mapping map[string]domain.Role) *Resolver {
	return &Resolver{verifier: verifier, mapping: mapping}
}

func (r *Resolver) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Principal{}, err
	}

	assertion, err := r.verifier.Verify(token)
	if err != nil {
		return domain.Principal{}, xe.Wrap(err)
	}

	return domain.Principal{
		Subject:    assertion.Subject,
		GlobalRole: domain.MapGroups(assertion.Groups, r.mapping),
		Groups:     assertion.Groups,
	}, nil
}
