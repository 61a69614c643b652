package db

import (
	"context"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type ComponentInterface interface {
	// NextVersion reports the version a new publication of (tenant, name)
	// must use: one more than the latest published version, starting at 1.
	NextVersion(ctx context.Context, tenantId string, name string) (int, error)

	// Record stores a published component.
	//
	// Returns ErrVersionConflict when the version is not strictly greater
	// than every version already recorded for (tenant, name), e.g. when a
	// concurrent publication took it first. The caller re-reads NextVersion
	// and retries.
	Record(ctx context.Context, component domain.PublishedComponent) error

	// Get one published component.
	Get(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error)

	// LatestOf reports the newest published component of (tenant, name).
	//
	// Returns ErrMissing when nothing is published under the name.
	LatestOf(ctx context.Context, tenantId string, name string) (domain.PublishedComponent, error)

	// PreviousOf reports the newest published component of (tenant, name)
	// older than version. This is the rollback target.
	//
	// Returns ErrMissing when there is no older version.
	PreviousOf(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error)
}
