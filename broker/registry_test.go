package broker

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreateAndLookup(t *testing.T) {
	r := NewRegistry()

	conn, err := r.Create("hotel-aurora", "user-1", map[string]string{"source": "dashboard"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(conn.ID, "conn_") || len(conn.ID) != len("conn_")+16 {
		t.Fatalf("unexpected connection id %q", conn.ID)
	}
	if conn.TenantID != "hotel-aurora" || conn.UserID != "user-1" {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	if !conn.CreatedAt.Equal(conn.LastUsedAt) {
		t.Fatalf("CreatedAt and LastUsedAt should match at creation")
	}

	got, err := r.Lookup(conn.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.TenantID != "hotel-aurora" {
		t.Fatalf("Lookup tenant: got %q", got.TenantID)
	}
}

func TestCreateRequiresTenant(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("", "", nil); !errors.Is(err, ErrTenantMissing) {
		t.Fatalf("expected ErrTenantMissing, got %v", err)
	}
}

func TestTenantImmutableAcrossTouches(t *testing.T) {
	r := NewRegistry()
	conn, err := r.Create("hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 5; i++ {
		touched, err := r.Touch(conn.ID)
		if err != nil {
			t.Fatalf("Touch #%d: %v", i, err)
		}
		if touched.TenantID != "hotel-aurora" {
			t.Fatalf("tenant changed after touch: %q", touched.TenantID)
		}
	}
}

func TestTouchUpdatesLastUsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(withClock(func() time.Time { return now }))

	conn, err := r.Create("hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now = now.Add(10 * time.Minute)
	touched, err := r.Touch(conn.ID)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if !touched.LastUsedAt.Equal(now) {
		t.Fatalf("LastUsedAt not updated: %v", touched.LastUsedAt)
	}
	if !touched.CreatedAt.Equal(conn.CreatedAt) {
		t.Fatalf("CreatedAt changed on touch")
	}
}

func TestTouchUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Touch("conn_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIdleSweepOnCreate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(
		WithIdleTimeout(30*time.Minute),
		withClock(func() time.Time { return now }),
	)

	stale, err := r.Create("hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Not expired yet: a create inside the window must not evict it.
	now = now.Add(29 * time.Minute)
	if _, err := r.Create("hotel-borealis", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Lookup(stale.ID); err != nil {
		t.Fatalf("connection swept too early: %v", err)
	}

	// Past the timeout, the next create sweeps it.
	now = now.Add(2 * time.Minute)
	if _, err := r.Create("hotel-borealis", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Touch(stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after sweep, got %v", err)
	}
	for _, c := range r.ListActive() {
		if c.ID == stale.ID {
			t.Fatalf("stale connection still listed")
		}
	}
	if got := r.CountForTenant("hotel-aurora"); got != 0 {
		t.Fatalf("tenant count not released by sweep: %d", got)
	}
}

func TestTouchDefersSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(
		WithIdleTimeout(30*time.Minute),
		withClock(func() time.Time { return now }),
	)

	conn, err := r.Create("hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Touch every 20 minutes for 2 hours; the connection must survive.
	for i := 0; i < 6; i++ {
		now = now.Add(20 * time.Minute)
		if _, err := r.Touch(conn.ID); err != nil {
			t.Fatalf("Touch at +%dm: %v", (i+1)*20, err)
		}
		if _, err := r.Create("hotel-borealis", "", nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := r.Lookup(conn.ID); err != nil {
		t.Fatalf("touched connection was swept: %v", err)
	}
}

func TestTenantCap(t *testing.T) {
	r := NewRegistry(WithTenantCap(2))

	first, err := r.Create("hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Create #1: %v", err)
	}
	if _, err := r.Create("hotel-aurora", "", nil); err != nil {
		t.Fatalf("Create #2: %v", err)
	}
	if _, err := r.Create("hotel-aurora", "", nil); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// Other tenants are unaffected.
	if _, err := r.Create("hotel-borealis", "", nil); err != nil {
		t.Fatalf("cap leaked across tenants: %v", err)
	}

	// Removing one frees a slot.
	if !r.Remove(first.ID) {
		t.Fatalf("Remove returned false for live connection")
	}
	if _, err := r.Create("hotel-aurora", "", nil); err != nil {
		t.Fatalf("Create after remove: %v", err)
	}
}

func TestCapExemption(t *testing.T) {
	r := NewRegistry(WithTenantCap(1), WithCapExemption("sse-session"))

	for i := 0; i < 5; i++ {
		if _, err := r.Create("sse-session", "", nil); err != nil {
			t.Fatalf("Create #%d for exempt tenant: %v", i, err)
		}
	}
	if got := r.CountForTenant("sse-session"); got != 5 {
		t.Fatalf("CountForTenant: got %d", got)
	}
}

func TestIdempotentRemove(t *testing.T) {
	r := NewRegistry()
	conn, err := r.Create("hotel-aurora", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !r.Remove(conn.ID) {
		t.Fatalf("first remove should report existed")
	}
	if r.Remove(conn.ID) {
		t.Fatalf("second remove should report not existed")
	}
}

func TestListActiveOrderedAndSanitized(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(withClock(func() time.Time { return now }))

	var ids []string
	for i := 0; i < 3; i++ {
		conn, err := r.Create("hotel-aurora", "", map[string]string{"secret": "value"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, conn.ID)
		now = now.Add(time.Second)
	}

	active := r.ListActive()
	if len(active) != 3 {
		t.Fatalf("expected 3 active, got %d", len(active))
	}
	for i, c := range active {
		if c.ID != ids[i] {
			t.Fatalf("position %d: got %s want %s", i, c.ID, ids[i])
		}
		if c.Metadata != nil {
			t.Fatalf("metadata leaked into sanitized view")
		}
	}
}

func TestCountForTenant(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		if _, err := r.Create("hotel-aurora", "", nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := r.Create("hotel-borealis", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got := r.CountForTenant("hotel-aurora"); got != 3 {
		t.Fatalf("hotel-aurora: got %d", got)
	}
	if got := r.CountForTenant("hotel-borealis"); got != 1 {
		t.Fatalf("hotel-borealis: got %d", got)
	}
	if got := r.CountForTenant("ghost"); got != 0 {
		t.Fatalf("ghost: got %d", got)
	}
}
