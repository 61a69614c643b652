package audits

import (
	"github.com/fleetforge/fleetforge/pkg/domain"
	"github.com/fleetforge/fleetforge/pkg/utils/rfctime"
)

type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp rfctime.RFC3339 `json:"timestamp"`
	Subject   string          `json:"subject"`
	TenantId  string          `json:"tenantId,omitempty"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	Outcome   string          `json:"outcome"`
	SuperUser bool            `json:"superUser,omitempty"`
}

func ComposeEvent(e domain.AuditEvent) Event {
	return Event{
		Seq:       e.Seq,
		Timestamp: rfctime.RFC3339(e.Timestamp),
		Subject:   e.Subject,
		TenantId:  e.TenantId,
		Action:    e.Action,
		Resource:  e.Resource,
		Outcome:   string(e.Outcome),
		SuperUser: e.SuperUser,
	}
}

func (e *Event) Equal(o *Event) bool {
	if e == nil || o == nil {
		return (e == nil) && (o == nil)
	}
	return e.Seq == o.Seq &&
		e.Timestamp.Equal(&o.Timestamp) &&
		e.Subject == o.Subject &&
		e.TenantId == o.TenantId &&
		e.Action == o.Action &&
		e.Resource == o.Resource &&
		e.Outcome == o.Outcome &&
		e.SuperUser == o.SuperUser
}
