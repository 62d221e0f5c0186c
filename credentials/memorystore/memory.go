// Package memorystore provides an in-memory credentials.AdminStore, suitable
// for tests and single-process deployments without provisioned storage.
package memorystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quendoo/mcp-broker/credentials"
)

type keyRecord struct {
	value     string
	createdAt time.Time
	updatedAt time.Time
}

// Store keeps tenants and keys in process memory. Values are held in the
// clear; encryption at rest only matters for persistent backends.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]credentials.Tenant
	keys    map[string]map[string]keyRecord // tenantID -> keyName -> record

	now func() time.Time
}

var _ credentials.AdminStore = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{
		tenants: make(map[string]credentials.Tenant),
		keys:    make(map[string]map[string]keyRecord),
		now:     time.Now,
	}
}

func (s *Store) GetKey(ctx context.Context, tenantID, keyName string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[tenantID][keyName]
	if !ok {
		return "", credentials.ErrKeyNotFound
	}
	return rec.value, nil
}

func (s *Store) CreateTenant(ctx context.Context, tenantID, name string) (credentials.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tenants[tenantID]; exists {
		return credentials.Tenant{}, credentials.ErrTenantExists
	}
	t := credentials.Tenant{TenantID: tenantID, Name: name, CreatedAt: s.now()}
	s.tenants[tenantID] = t
	return t, nil
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (credentials.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return credentials.Tenant{}, credentials.ErrTenantNotFound
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]credentials.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]credentials.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sortTenants(out)
	return out, nil
}

func (s *Store) PutKey(ctx context.Context, tenantID, keyName, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenantID]; !ok {
		return credentials.ErrTenantNotFound
	}
	now := s.now()
	if s.keys[tenantID] == nil {
		s.keys[tenantID] = make(map[string]keyRecord)
	}
	rec, exists := s.keys[tenantID][keyName]
	if exists {
		rec.value = value
		rec.updatedAt = now
	} else {
		rec = keyRecord{value: value, createdAt: now, updatedAt: now}
	}
	s.keys[tenantID][keyName] = rec
	return nil
}

func (s *Store) ListKeys(ctx context.Context, tenantID string) ([]credentials.KeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tenants[tenantID]; !ok {
		return nil, credentials.ErrTenantNotFound
	}
	out := make([]credentials.KeyInfo, 0, len(s.keys[tenantID]))
	for name, rec := range s.keys[tenantID] {
		out = append(out, credentials.KeyInfo{
			TenantID:  tenantID,
			KeyName:   name,
			CreatedAt: rec.createdAt,
			UpdatedAt: rec.updatedAt,
		})
	}
	sortKeys(out)
	return out, nil
}

func (s *Store) DeleteKey(ctx context.Context, tenantID, keyName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[tenantID][keyName]; !ok {
		return false, nil
	}
	delete(s.keys[tenantID], keyName)
	return true, nil
}

func (s *Store) Close() error { return nil }

func sortTenants(ts []credentials.Tenant) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].TenantID < ts[j].TenantID })
}

func sortKeys(ks []credentials.KeyInfo) {
	sort.Slice(ks, func(i, j int) bool { return ks[i].KeyName < ks[j].KeyName })
}
