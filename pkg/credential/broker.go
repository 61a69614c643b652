package credential

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/fleetforge/fleetforge/pkg/domain"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

const stripes = 64

// Broker hands out tenant-bound sessions, caching them per tenant.
//
// A cached session is reused while it is inside its refresh margin and was
// issued for the tenant's current trust-scope version. Refresh is synchronous
// in the calling goroutine; concurrent callers for the same tenant serialize
// on a striped lock, callers for different tenants do not contend.
type Broker struct {
	issuer Issuer

	// fraction of a token's lifetime after which it is refreshed. 0.8 means
	// a token living 1h is replaced 48min in.
	refreshMargin float64

	// cap a token's usable lifetime regardless of what the issuer granted.
	maxTTL time.Duration

	now func() time.Time

	locks [stripes]sync.Mutex

	mu    sync.RWMutex
	cache map[string]*Session
}

type BrokerOption func(*Broker) *Broker

// WithClock replaces the broker's clock. Tests only.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) *Broker {
		b.now = now
		return b
	}
}

func NewBroker(issuer Issuer, refreshMargin float64, maxTTL time.Duration, options ...BrokerOption) *Broker {
	if refreshMargin <= 0 || 1 < refreshMargin {
		refreshMargin = 0.8
	}
	b := &Broker{
		issuer:        issuer,
		refreshMargin: refreshMargin,
		maxTTL:        maxTTL,
		now:           time.Now,
		cache:         map[string]*Session{},
	}
	for _, option := range options {
		b = option(b)
	}
	return b
}

// Obtain returns a session for tenant, from cache when fresh enough.
//
// Issue failures surface as CredentialError and leave the cache untouched, so
// the next Obtain asks the issuer again.
func (b *Broker) Obtain(ctx context.Context, tenant domain.Tenant) (*Session, error) {
	if s := b.cached(tenant); s != nil {
		return s, nil
	}

	lock := &b.locks[stripe(tenant.Id)]
	lock.Lock()
	defer lock.Unlock()

	// another caller may have refreshed while we waited for the stripe.
	if s := b.cached(tenant); s != nil {
		return s, nil
	}

	token, err := b.issuer.Issue(ctx, tenant)
	if err != nil {
		return nil, xe.Wrap(CredentialError{TenantId: tenant.Id, Cause: err})
	}

	if hardCap := b.now().Add(b.maxTTL); b.maxTTL != 0 && hardCap.Before(token.ExpiresAt) {
		token.ExpiresAt = hardCap
	}

	session := &Session{
		tenantId:          tenant.Id,
		trustScopeVersion: tenant.TrustScope.Version,
		token:             token,
		issuedAt:          b.now(),
	}

	b.mu.Lock()
	b.cache[tenant.Id] = session
	b.mu.Unlock()

	return session, nil
}

// Invalidate drops the cached session of a tenant. Called on trust-scope
// rotation; sessions for the old version also die naturally since the cache
// key check compares versions.
func (b *Broker) Invalidate(tenantId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, tenantId)
}

func (b *Broker) cached(tenant domain.Tenant) *Session {
	b.mu.RLock()
	session, ok := b.cache[tenant.Id]
	b.mu.RUnlock()

	if !ok {
		return nil
	}
	if session.trustScopeVersion != tenant.TrustScope.Version {
		return nil
	}

	lifetime := session.token.ExpiresAt.Sub(session.issuedAt)
	refreshAt := session.issuedAt.Add(time.Duration(b.refreshMargin * float64(lifetime)))
	if !b.now().Before(refreshAt) {
		return nil
	}
	return session
}

func stripe(tenantId string) int {
	h := fnv.New32a()
	h.Write([]byte(tenantId))
	return int(h.Sum32() % stripes)
}
