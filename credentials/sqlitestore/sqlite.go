// Package sqlitestore provides a SQLite-backed credentials.AdminStore. Key
// values are Fernet-encrypted before they touch disk; the schema matches the
// original deployment so an existing database keeps working.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/quendoo/mcp-broker/credentials"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	tenant_id  TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS api_keys (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL REFERENCES tenants(tenant_id),
	key_name        TEXT NOT NULL,
	encrypted_value TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	UNIQUE(tenant_id, key_name)
);
`

// Store persists tenants and encrypted API keys in SQLite.
type Store struct {
	db     *sql.DB
	cipher *credentials.Cipher
	now    func() time.Time
}

var _ credentials.AdminStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string, cipher *credentials.Cipher) (*Store, error) {
	if cipher == nil {
		return nil, fmt.Errorf("cipher is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc.org/sqlite serializes writes itself but concurrent write
	// attempts still surface as SQLITE_BUSY without this.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, cipher: cipher, now: time.Now}, nil
}

func (s *Store) GetKey(ctx context.Context, tenantID, keyName string) (string, error) {
	var encrypted string
	err := s.db.QueryRowContext(ctx,
		`SELECT encrypted_value FROM api_keys WHERE tenant_id = ? AND key_name = ?`,
		tenantID, keyName,
	).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", credentials.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query api key: %w", err)
	}
	value, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt api key for tenant %s: %w", tenantID, err)
	}
	return value, nil
}

func (s *Store) CreateTenant(ctx context.Context, tenantID, name string) (credentials.Tenant, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		tenantID, name, now, now,
	)
	if err != nil {
		var exists bool
		if scanErr := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) > 0 FROM tenants WHERE tenant_id = ?`, tenantID,
		).Scan(&exists); scanErr == nil && exists {
			return credentials.Tenant{}, credentials.ErrTenantExists
		}
		return credentials.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return credentials.Tenant{TenantID: tenantID, Name: name, CreatedAt: now}, nil
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (credentials.Tenant, error) {
	var t credentials.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, name, created_at FROM tenants WHERE tenant_id = ?`, tenantID,
	).Scan(&t.TenantID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Tenant{}, credentials.ErrTenantNotFound
	}
	if err != nil {
		return credentials.Tenant{}, fmt.Errorf("query tenant: %w", err)
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]credentials.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, name, created_at FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []credentials.Tenant
	for rows.Next() {
		var t credentials.Tenant
		if err := rows.Scan(&t.TenantID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) PutKey(ctx context.Context, tenantID, keyName, value string) error {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	encrypted, err := s.cipher.Encrypt(value)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, key_name, encrypted_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, key_name)
		DO UPDATE SET encrypted_value = excluded.encrypted_value, updated_at = excluded.updated_at`,
		uuid.NewString(), tenantID, keyName, encrypted, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert api key: %w", err)
	}
	return nil
}

func (s *Store) ListKeys(ctx context.Context, tenantID string) ([]credentials.KeyInfo, error) {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, key_name, created_at, updated_at FROM api_keys WHERE tenant_id = ? ORDER BY key_name`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []credentials.KeyInfo
	for rows.Next() {
		var k credentials.KeyInfo
		if err := rows.Scan(&k.TenantID, &k.KeyName, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) DeleteKey(ctx context.Context, tenantID, keyName string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE tenant_id = ? AND key_name = ?`, tenantID, keyName)
	if err != nil {
		return false, fmt.Errorf("delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Close() error { return s.db.Close() }
