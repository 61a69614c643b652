package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetforge/fleetforge/pkg/domain"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

// the external token service refused or failed to issue. Never cached; the
// next Obtain tries again.
type CredentialError struct {
	TenantId string
	Cause    error
}

func (e CredentialError) Error() string {
	return fmt.Sprintf("credential for tenant %s not obtained: %s", e.TenantId, e.Cause)
}

func (e CredentialError) Unwrap() error {
	return e.Cause
}

// a session was applied to a tenant it was not issued for.
var ErrTenantMismatch = errors.New("session is bound to another tenant")

// Token is what the external token service hands out.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer exchanges a tenant's trust scope for a short-lived token.
type Issuer interface {
	Issue(ctx context.Context, tenant domain.Tenant) (Token, error)
}

// Session is a tenant-bound credential handle.
//
// The binding is structural: the token is unexported and only reachable
// through Use, which refuses a tenant other than the one the session was
// issued for. Sessions live in memory only and are never persisted.
type Session struct {
	tenantId          string
	trustScopeVersion int
	token             Token
	issuedAt          time.Time
}

func (s *Session) TenantId() string {
	return s.tenantId
}

func (s *Session) ExpiresAt() time.Time {
	return s.token.ExpiresAt
}

// Use runs fn with the raw token value, after checking that tenantId is the
// tenant this session was issued for.
func (s *Session) Use(ctx context.Context, tenantId string, fn func(ctx context.Context, token string) error) error {
	if tenantId != s.tenantId {
		return xe.WrapWithNote(
			fmt.Sprintf("issued for %s, used for %s", s.tenantId, tenantId),
			ErrTenantMismatch,
		)
	}
	return fn(ctx, s.token.Value)
}
