// Package redisstore provides a Redis-backed credentials.AdminStore for
// deployments that share tenant credentials across broker processes. Key
// values are Fernet-encrypted before they reach Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quendoo/mcp-broker/credentials"
)

// Config for the Redis-backed store. Defaults suit local development.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: CREDENTIALS_KEY_PREFIX
	KeyPrefix string `env:"CREDENTIALS_KEY_PREFIX,default=broker:credentials:"`
}

// Store keeps tenants and encrypted API keys in Redis hashes.
type Store struct {
	client    *redis.Client
	cipher    *credentials.Cipher
	keyPrefix string
	now       func() time.Time
}

var _ credentials.AdminStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(cfg Config, cipher *credentials.Cipher) (*Store, error) {
	if cipher == nil {
		return nil, fmt.Errorf("cipher is required")
	}
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "broker:credentials:"
	}
	return &Store{client: cl, cipher: cipher, keyPrefix: prefix, now: time.Now}, nil
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) tenantKey(tenantID string) string  { return s.keyPrefix + "tenant:" + tenantID }
func (s *Store) tenantsKey() string                { return s.keyPrefix + "tenants" }
func (s *Store) apiKeysKey(tenantID string) string { return s.keyPrefix + "keys:" + tenantID }
func (s *Store) keyMetaKey(tenantID string) string { return s.keyPrefix + "keymeta:" + tenantID }

func (s *Store) GetKey(ctx context.Context, tenantID, keyName string) (string, error) {
	encrypted, err := s.client.HGet(ctx, s.apiKeysKey(tenantID), keyName).Result()
	if errors.Is(err, redis.Nil) {
		return "", credentials.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis hget: %w", err)
	}
	value, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt api key for tenant %s: %w", tenantID, err)
	}
	return value, nil
}

func (s *Store) CreateTenant(ctx context.Context, tenantID, name string) (credentials.Tenant, error) {
	now := s.now().UTC()
	created, err := s.client.HSetNX(ctx, s.tenantKey(tenantID), "name", name).Result()
	if err != nil {
		return credentials.Tenant{}, fmt.Errorf("redis hsetnx: %w", err)
	}
	if !created {
		return credentials.Tenant{}, credentials.ErrTenantExists
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.tenantKey(tenantID), "created_at", now.Format(time.RFC3339Nano))
	pipe.SAdd(ctx, s.tenantsKey(), tenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return credentials.Tenant{}, fmt.Errorf("redis pipeline: %w", err)
	}
	return credentials.Tenant{TenantID: tenantID, Name: name, CreatedAt: now}, nil
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (credentials.Tenant, error) {
	fields, err := s.client.HGetAll(ctx, s.tenantKey(tenantID)).Result()
	if err != nil {
		return credentials.Tenant{}, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return credentials.Tenant{}, credentials.ErrTenantNotFound
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	return credentials.Tenant{TenantID: tenantID, Name: fields["name"], CreatedAt: createdAt}, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]credentials.Tenant, error) {
	ids, err := s.client.SMembers(ctx, s.tenantsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	out := make([]credentials.Tenant, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTenant(ctx, id)
		if errors.Is(err, credentials.ErrTenantNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sortTenants(out)
	return out, nil
}

func (s *Store) PutKey(ctx context.Context, tenantID, keyName, value string) error {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	encrypted, err := s.cipher.Encrypt(value)
	if err != nil {
		return err
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.apiKeysKey(tenantID), keyName, encrypted)
	pipe.HSetNX(ctx, s.keyMetaKey(tenantID), keyName+":created_at", now)
	pipe.HSet(ctx, s.keyMetaKey(tenantID), keyName+":updated_at", now)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func (s *Store) ListKeys(ctx context.Context, tenantID string) ([]credentials.KeyInfo, error) {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	names, err := s.client.HKeys(ctx, s.apiKeysKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	meta, err := s.client.HGetAll(ctx, s.keyMetaKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make([]credentials.KeyInfo, 0, len(names))
	for _, name := range names {
		createdAt, _ := time.Parse(time.RFC3339Nano, meta[name+":created_at"])
		updatedAt, _ := time.Parse(time.RFC3339Nano, meta[name+":updated_at"])
		out = append(out, credentials.KeyInfo{
			TenantID:  tenantID,
			KeyName:   name,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		})
	}
	sortKeys(out)
	return out, nil
}

func (s *Store) DeleteKey(ctx context.Context, tenantID, keyName string) (bool, error) {
	n, err := s.client.HDel(ctx, s.apiKeysKey(tenantID), keyName).Result()
	if err != nil {
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	s.client.HDel(ctx, s.keyMetaKey(tenantID), keyName+":created_at", keyName+":updated_at")
	return n > 0, nil
}

func sortTenants(ts []credentials.Tenant) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].TenantID < ts[j].TenantID })
}

func sortKeys(ks []credentials.KeyInfo) {
	sort.Slice(ks, func(i, j int) bool { return ks[i].KeyName < ks[j].KeyName })
}
