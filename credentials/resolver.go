package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Resolver yields the effective secret for a tool call.
//
// Precedence is fixed: an inline credential presented with the call wins,
// then the session's most recently supplied credential, and only then the
// legacy store path keyed by tenant id. The resolved secret is always passed
// explicitly down the dispatch path; the resolver never hands a credential to
// anything that would cache it per-session.
type Resolver struct {
	store   Store
	keyName string
	cache   *expirable.LRU[string, string]
}

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	keyName   string
	cacheSize int
	cacheTTL  time.Duration
}

// WithKeyName overrides the store key name used on the tenant path.
func WithKeyName(name string) ResolverOption {
	return func(c *resolverConfig) { c.keyName = name }
}

// WithCache sizes the decrypted-key cache on the tenant path. A zero size
// disables caching.
func WithCache(size int, ttl time.Duration) ResolverOption {
	return func(c *resolverConfig) { c.cacheSize = size; c.cacheTTL = ttl }
}

// NewResolver constructs a Resolver over the given store. The store may be
// nil when only per-request credentials are in play.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	cfg := resolverConfig{keyName: KeyNamePMS, cacheSize: 128, cacheTTL: 5 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &Resolver{store: store, keyName: cfg.keyName}
	if cfg.cacheSize > 0 {
		r.cache = expirable.NewLRU[string, string](cfg.cacheSize, nil, cfg.cacheTTL)
	}
	return r
}

// Resolve picks the effective credential for a call: the inline credential if
// present, otherwise the session's pending one, otherwise ErrCredentialMissing.
func (r *Resolver) Resolve(inline, pending string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if pending != "" {
		return pending, nil
	}
	return "", ErrCredentialMissing
}

// ResolveTenant looks up the tenant's stored key. This is the legacy path
// used by the direct front end when no inline credential accompanies the
// call. Store lookups hit a decryption and often a database, so results are
// cached briefly.
func (r *Resolver) ResolveTenant(ctx context.Context, tenantID string) (string, error) {
	if r.store == nil {
		return "", ErrCredentialMissing
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(tenantID); ok {
			return v, nil
		}
	}
	v, err := r.store.GetKey(ctx, tenantID, r.keyName)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrTenantNotFound) {
			return "", fmt.Errorf("%w: no stored key for tenant %s", ErrCredentialMissing, tenantID)
		}
		return "", fmt.Errorf("resolve tenant credential: %w", err)
	}
	if r.cache != nil {
		r.cache.Add(tenantID, v)
	}
	return v, nil
}

// Invalidate drops a tenant's cached key, for use after admin key updates.
func (r *Resolver) Invalidate(tenantID string) {
	if r.cache != nil {
		r.cache.Remove(tenantID)
	}
}
