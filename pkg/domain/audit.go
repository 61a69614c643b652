package domain

import (
	"fmt"
	"time"

	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
)

type AuditOutcome string

const (
	// the authorization guard allowed the action.
	OutcomeAllowed AuditOutcome = "allowed"

	// the authorization guard denied the action.
	OutcomeDenied AuditOutcome = "denied"

	// a pipeline/deployment transition was applied by the system itself.
	OutcomeApplied AuditOutcome = "applied"
)

func AsAuditOutcome(s string) (AuditOutcome, error) {
	switch s {
	case string(OutcomeAllowed):
		return OutcomeAllowed, nil
	case string(OutcomeDenied):
		return OutcomeDenied, nil
	case string(OutcomeApplied):
		return OutcomeApplied, nil
	default:
		return "", fmt.Errorf("'%s' is not AuditOutcome", s)
	}
}

// Append-only audit record. Never mutated or deleted.
//
// Seq is assigned by the recorder and is strictly monotonic; it doubles as the
// correlation id on denials and failures.
type AuditEvent struct {
	Seq       int64
	Timestamp time.Time

	Subject string

	// empty for global (non tenant-scoped) actions.
	TenantId string

	Action   string
	Resource string
	Outcome  AuditOutcome

	// true only when the action was allowed through the SuperAdmin bypass.
	SuperUser bool
}

func (e AuditEvent) Equal(other AuditEvent) bool {
	return e.Seq == other.Seq &&
		e.Subject == other.Subject &&
		e.TenantId == other.TenantId &&
		e.Action == other.Action &&
		e.Resource == other.Resource &&
		e.Outcome == other.Outcome &&
		e.SuperUser == other.SuperUser
}

type AuditFindQuery struct {
	// match if event belongs to one of these tenants.
	//
	// If it is nil or empty, it means "match any".
	TenantId []string

	// match if event's subject is one of these.
	Subject []string

	// match if event's action is one of these.
	Action []string

	// match if event's timestamp is equal or later than this.
	Since *time.Time

	// match if event's timestamp is earlier than this.
	Until *time.Time
}

func (q AuditFindQuery) Equal(other AuditFindQuery) bool {
	return cmp.SliceContentEq(q.TenantId, other.TenantId) &&
		cmp.SliceContentEq(q.Subject, other.Subject) &&
		cmp.SliceContentEq(q.Action, other.Action) &&
		((q.Since == nil && other.Since == nil) ||
			(q.Since != nil && other.Since != nil && q.Since.Equal(*other.Since))) &&
		((q.Until == nil && other.Until == nil) ||
			(q.Until != nil && other.Until != nil && q.Until.Equal(*other.Until)))
}
