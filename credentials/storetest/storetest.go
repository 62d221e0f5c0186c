// Package storetest provides a conformance test suite for
// credentials.AdminStore implementations. Every backend must pass it.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quendoo/mcp-broker/credentials"
)

// Factory creates a fresh, empty AdminStore for a single test.
type Factory func(t *testing.T) credentials.AdminStore

// RunAdminStoreTests runs the complete AdminStore test suite against the
// provided factory.
func RunAdminStoreTests(t *testing.T, factory Factory) {
	t.Run("Tenants_CreateAndGet", func(t *testing.T) { testCreateAndGetTenant(t, factory) })
	t.Run("Tenants_DuplicateRejected", func(t *testing.T) { testDuplicateTenant(t, factory) })
	t.Run("Tenants_GetMissing", func(t *testing.T) { testGetMissingTenant(t, factory) })
	t.Run("Tenants_ListSorted", func(t *testing.T) { testListTenantsSorted(t, factory) })

	t.Run("Keys_PutAndGet", func(t *testing.T) { testPutAndGetKey(t, factory) })
	t.Run("Keys_PutRequiresTenant", func(t *testing.T) { testPutKeyRequiresTenant(t, factory) })
	t.Run("Keys_Upsert", func(t *testing.T) { testUpsertKey(t, factory) })
	t.Run("Keys_GetMissing", func(t *testing.T) { testGetMissingKey(t, factory) })
	t.Run("Keys_List", func(t *testing.T) { testListKeys(t, factory) })
	t.Run("Keys_Delete", func(t *testing.T) { testDeleteKey(t, factory) })
	t.Run("Keys_IsolationBetweenTenants", func(t *testing.T) { testTenantIsolation(t, factory) })
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustCreate(t *testing.T, ctx context.Context, s credentials.AdminStore, tenantID, name string) {
	t.Helper()
	if _, err := s.CreateTenant(ctx, tenantID, name); err != nil {
		t.Fatalf("CreateTenant(%s): %v", tenantID, err)
	}
}

func testCreateAndGetTenant(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	created, err := s.CreateTenant(ctx, "hotel-aurora", "Hotel Aurora")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if created.TenantID != "hotel-aurora" || created.Name != "Hotel Aurora" {
		t.Fatalf("unexpected tenant: %+v", created)
	}
	if created.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be set")
	}

	got, err := s.GetTenant(ctx, "hotel-aurora")
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if got.TenantID != created.TenantID || got.Name != created.Name {
		t.Fatalf("GetTenant mismatch: got %+v want %+v", got, created)
	}
}

func testDuplicateTenant(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	mustCreate(t, ctx, s, "hotel-aurora", "Hotel Aurora")
	if _, err := s.CreateTenant(ctx, "hotel-aurora", "Other Name"); !errors.Is(err, credentials.ErrTenantExists) {
		t.Fatalf("expected ErrTenantExists, got %v", err)
	}
}

func testGetMissingTenant(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	if _, err := s.GetTenant(ctx, "nope"); !errors.Is(err, credentials.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func testListTenantsSorted(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	mustCreate(t, ctx, s, "zeta", "Zeta")
	mustCreate(t, ctx, s, "alpha", "Alpha")
	mustCreate(t, ctx, s, "mid", "Mid")

	ts, err := s.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants: %v", err)
	}
	if len(ts) != 3 {
		t.Fatalf("expected 3 tenants, got %d", len(ts))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if ts[i].TenantID != want {
			t.Fatalf("position %d: got %s want %s", i, ts[i].TenantID, want)
		}
	}
}

func testPutAndGetKey(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	mustCreate(t, ctx, s, "hotel-aurora", "Hotel Aurora")
	if err := s.PutKey(ctx, "hotel-aurora", credentials.KeyNamePMS, "qk_live_abc123"); err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	got, err := s.GetKey(ctx, "hotel-aurora", credentials.KeyNamePMS)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got != "qk_live_abc123" {
		t.Fatalf("GetKey: got %q want %q", got, "qk_live_abc123")
	}
}

func testPutKeyRequiresTenant(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	if err := s.PutKey(ctx, "ghost", credentials.KeyNamePMS, "v"); !errors.Is(err, credentials.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func testUpsertKey(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	mustCreate(t, ctx, s, "hotel-aurora", "Hotel Aurora")
	if err := s.PutKey(ctx, "hotel-aurora", credentials.KeyNamePMS, "old"); err != nil {
		t.Fatalf("PutKey: %v", err)
	}
	if err := s.PutKey(ctx, "hotel-aurora", credentials.KeyNamePMS, "new"); err != nil {
		t.Fatalf("PutKey (update): %v", err)
	}

	got, err := s.GetKey(ctx, "hotel-aurora", credentials.KeyNamePMS)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got != "new" {
		t.Fatalf("expected rotated value, got %q", got)
	}

	keys, err := s.ListKeys(ctx, "hotel-aurora")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("upsert should not duplicate key rows, got %d", len(keys))
	}
}

func testGetMissingKey(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	mustCreate(t, ctx, s, "hotel-aurora", "Hotel Aurora")
	if _, err := s.GetKey(ctx, "hotel-aurora", "NOPE"); !errors.Is(err, credentials.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func testListKeys(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	mustCreate(t, ctx, s, "hotel-aurora", "Hotel Aurora")
	for _, name := range []string{"ZKEY", "AKEY", credentials.KeyNamePMS} {
		if err := s.PutKey(ctx, "hotel-aurora", name, "v"); err != nil {
			t.Fatalf("PutKey(%s): %v", name, err)
		}
	}

	keys, err := s.ListKeys(ctx, "hotel-aurora")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	for i, want := range []string{"AKEY", credentials.KeyNamePMS, "ZKEY"} {
		if keys[i].KeyName != want {
			t.Fatalf("position %d: got %s want %s", i, keys[i].KeyName, want)
		}
	}
	for _, k := range keys {
		if k.TenantID != "hotel-aurora" {
			t.Fatalf("key %s has tenant %s", k.KeyName, k.TenantID)
		}
	}
}

func testDeleteKey(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	mustCreate(t, ctx, s, "hotel-aurora", "Hotel Aurora")
	if err := s.PutKey(ctx, "hotel-aurora", credentials.KeyNamePMS, "v"); err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	deleted, err := s.DeleteKey(ctx, "hotel-aurora", credentials.KeyNamePMS)
	if err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to report true")
	}
	if _, err := s.GetKey(ctx, "hotel-aurora", credentials.KeyNamePMS); !errors.Is(err, credentials.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}

	deleted, err = s.DeleteKey(ctx, "hotel-aurora", credentials.KeyNamePMS)
	if err != nil {
		t.Fatalf("DeleteKey (second): %v", err)
	}
	if deleted {
		t.Fatalf("second delete should report false")
	}
}

func testTenantIsolation(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := testCtx(t)

	mustCreate(t, ctx, s, "hotel-aurora", "Hotel Aurora")
	mustCreate(t, ctx, s, "hotel-borealis", "Hotel Borealis")
	if err := s.PutKey(ctx, "hotel-aurora", credentials.KeyNamePMS, "aurora-key"); err != nil {
		t.Fatalf("PutKey: %v", err)
	}
	if err := s.PutKey(ctx, "hotel-borealis", credentials.KeyNamePMS, "borealis-key"); err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	got, err := s.GetKey(ctx, "hotel-borealis", credentials.KeyNamePMS)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got != "borealis-key" {
		t.Fatalf("cross-tenant leak: got %q", got)
	}

	keys, err := s.ListKeys(ctx, "hotel-aurora")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].TenantID != "hotel-aurora" {
		t.Fatalf("expected only aurora keys, got %+v", keys)
	}
}
