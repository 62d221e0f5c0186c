package broker

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is a registry-tracked binding between an opaque id and a tenant,
// with activity timestamps governing its eviction. The tenant id never
// changes after creation.
type Connection struct {
	ID         string            `json:"connection_id"`
	TenantID   string            `json:"tenant_id"`
	UserID     string            `json:"user_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	LastUsedAt time.Time         `json:"last_used_at"`
	Metadata   map[string]string `json:"-"`
}

// connRecord is the registry-owned mutable state for one connection.
// Snapshots are handed out to callers; the record itself never escapes the
// registry's lock.
type connRecord struct {
	conn Connection
}

// Registry owns the set of live connections. All mutating operations hold the
// registry lock for their full duration and never suspend inside it, so each
// appears atomic to concurrently dispatched requests.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]*connRecord
	perTenant map[string]int

	tenantCap   int
	idleTimeout time.Duration
	capExempt   map[string]struct{}

	now func() time.Time
	log *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTenantCap sets the maximum number of live connections per tenant.
// Non-positive disables the cap.
func WithTenantCap(n int) RegistryOption {
	return func(r *Registry) { r.tenantCap = n }
}

// WithIdleTimeout sets how long an untouched connection survives before the
// sweep removes it. Non-positive disables eviction.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithCapExemption excludes a tenant id from the per-tenant cap. Used for the
// stream transport's sentinel tenant, whose connection count is already
// bounded by the number of live streams.
func WithCapExemption(tenantID string) RegistryOption {
	return func(r *Registry) { r.capExempt[tenantID] = struct{}{} }
}

// WithRegistryLogger sets the logger used for lifecycle events.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// withClock overrides the registry clock. Test hook.
func withClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry constructs an empty connection registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:       make(map[string]*connRecord),
		perTenant:   make(map[string]int),
		capExempt:   make(map[string]struct{}),
		idleTimeout: time.Hour,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	return r
}

// newConnectionID generates an opaque connection token with 64 bits of
// entropy.
func newConnectionID() string {
	return "conn_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Create registers a new connection for the tenant and returns its snapshot.
// Expired connections are swept opportunistically on every create, so stale
// records disappear without a background timer.
func (r *Registry) Create(tenantID, userID string, metadata map[string]string) (Connection, error) {
	if tenantID == "" {
		return Connection{}, ErrTenantMissing
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(now)

	if r.tenantCap > 0 {
		if _, exempt := r.capExempt[tenantID]; !exempt && r.perTenant[tenantID] >= r.tenantCap {
			return Connection{}, ErrCapacityExceeded
		}
	}

	conn := Connection{
		ID:         newConnectionID(),
		TenantID:   tenantID,
		UserID:     userID,
		CreatedAt:  now,
		LastUsedAt: now,
		Metadata:   copyMetadata(metadata),
	}
	r.conns[conn.ID] = &connRecord{conn: conn}
	r.perTenant[tenantID]++

	r.log.Info("connection.create", slog.String("connection_id", conn.ID), slog.String("tenant_id", tenantID))
	return conn, nil
}

// Touch updates the connection's last-used timestamp and returns a snapshot.
// Called before every tool dispatch.
func (r *Registry) Touch(connectionID string) (Connection, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, ErrNotFound
	}
	rec.conn.LastUsedAt = now
	return rec.conn, nil
}

// Lookup returns a snapshot without updating activity.
func (r *Registry) Lookup(connectionID string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return rec.conn, nil
}

// Remove deletes the connection and reports whether it existed. Removing an
// already-removed connection is a no-op, not an error.
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connectionID)
}

func (r *Registry) removeLocked(connectionID string) bool {
	rec, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	delete(r.conns, connectionID)
	tenantID := rec.conn.TenantID
	if r.perTenant[tenantID] <= 1 {
		delete(r.perTenant, tenantID)
	} else {
		r.perTenant[tenantID]--
	}
	r.log.Info("connection.remove", slog.String("connection_id", connectionID), slog.String("tenant_id", tenantID))
	return true
}

// ListActive returns sanitized snapshots of all live connections, ordered by
// creation time then id. Credentials are never stored in the registry, so
// there is nothing to redact beyond the metadata map.
func (r *Registry) ListActive() []Connection {
	r.mu.Lock()
	out := make([]Connection, 0, len(r.conns))
	for _, rec := range r.conns {
		c := rec.conn
		c.Metadata = nil
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CountForTenant returns the number of live connections bound to the tenant.
func (r *Registry) CountForTenant(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perTenant[tenantID]
}

// sweepLocked removes connections idle past the timeout. O(n) per create is
// acceptable while n is bounded by cap x tenant count; the observable
// contract (expired connections eventually disappear and fail with
// ErrNotFound) must hold under any future sweep mechanism.
func (r *Registry) sweepLocked(now time.Time) {
	if r.idleTimeout <= 0 {
		return
	}
	cutoff := now.Add(-r.idleTimeout)
	for id, rec := range r.conns {
		if rec.conn.LastUsedAt.Before(cutoff) {
			r.removeLocked(id)
			r.log.Info("connection.expire", slog.String("connection_id", id))
		}
	}
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
