// Package credentials defines the credential store contract and the
// per-request credential resolver used by the tool dispatch path.
//
// The broker's primary authentication model is per-request: the client
// presents the downstream API key with each call. The store exists for the
// legacy path where a tenant's key is kept server-side, encrypted at rest,
// and resolved by tenant id.
package credentials

import (
	"context"
	"errors"
	"time"
)

// KeyNamePMS is the store key name under which a tenant's PMS API key is
// kept. Matches the original deployment's key naming.
const KeyNamePMS = "QUENDOO_API_KEY"

var (
	// ErrCredentialMissing is returned when neither an inline credential nor
	// a stored one is available for a call.
	ErrCredentialMissing = errors.New("credential missing")

	// ErrKeyNotFound is returned by a Store when the tenant has no key under
	// the requested name.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrTenantNotFound is returned by admin operations naming an unknown
	// tenant.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantExists is returned when creating a tenant id that is already
	// taken.
	ErrTenantExists = errors.New("tenant already exists")
)

// Store resolves a tenant's decrypted secret by key name. This is the only
// interface the dispatch core needs; administration is a separate concern.
type Store interface {
	// GetKey returns the decrypted secret for (tenantID, keyName), or
	// ErrKeyNotFound.
	GetKey(ctx context.Context, tenantID, keyName string) (string, error)

	// Close releases backend resources.
	Close() error
}

// Tenant is an isolated customer whose credentials must never be visible to
// another tenant.
type Tenant struct {
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyInfo describes a stored key without exposing its value.
type KeyInfo struct {
	TenantID  string    `json:"tenant_id"`
	KeyName   string    `json:"key_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminStore extends Store with the management surface used by the admin
// front end. Key values go in plaintext and are encrypted by the store; they
// are never listed back out.
type AdminStore interface {
	Store

	CreateTenant(ctx context.Context, tenantID, name string) (Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)

	// PutKey creates or replaces the named key for the tenant.
	PutKey(ctx context.Context, tenantID, keyName, value string) error
	ListKeys(ctx context.Context, tenantID string) ([]KeyInfo, error)
	DeleteKey(ctx context.Context, tenantID, keyName string) (bool, error)
}
