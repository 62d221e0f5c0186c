// Package broker implements the multi-tenant session and tool-dispatch core:
// the connection registry with idle eviction and per-tenant caps, and the
// unified call path both protocol front ends reduce to.
//
// Credentials flow through as explicit per-call arguments. The broker stores
// none of them; each call can carry a different credential.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/quendoo/mcp-broker/credentials"
	"github.com/quendoo/mcp-broker/internal/logctx"
	"github.com/quendoo/mcp-broker/tools"
)

// Broker owns the connection registry and routes tool calls through the tool
// registry. It is constructed once at process start and shared by reference
// with the front ends.
type Broker struct {
	registry *Registry
	tools    *tools.Registry
	log      *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the broker's logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// New constructs a Broker over the given registries.
func New(registry *Registry, toolRegistry *tools.Registry, opts ...Option) *Broker {
	b := &Broker{registry: registry, tools: toolRegistry}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = slog.New(slog.DiscardHandler)
	}
	return b
}

// Connect establishes a connection for the tenant and returns its snapshot.
func (b *Broker) Connect(ctx context.Context, tenantID, userID string, metadata map[string]string) (Connection, error) {
	conn, err := b.registry.Create(tenantID, userID, metadata)
	if err != nil {
		b.log.InfoContext(ctx, "broker.connect.fail", slog.String("tenant_id", tenantID), slog.String("err", err.Error()))
		return Connection{}, err
	}
	b.log.InfoContext(ctx, "broker.connect.ok", slog.String("connection_id", conn.ID), slog.String("tenant_id", tenantID))
	return conn, nil
}

// CallTool dispatches a tool call on behalf of a live connection. The
// connection is touched first so eviction tracks real activity; a missing or
// expired connection fails with ErrNotFound before any backend work. An
// empty credential fails with credentials.ErrCredentialMissing.
func (b *Broker) CallTool(ctx context.Context, connectionID, toolName string, args json.RawMessage, credential string) (any, error) {
	conn, err := b.registry.Touch(connectionID)
	if err != nil {
		b.log.InfoContext(ctx, "broker.call.miss", slog.String("connection_id", connectionID))
		return nil, err
	}

	ctx = logctx.WithConnData(ctx, &logctx.ConnData{
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		UserID:       conn.UserID,
	})

	if credential == "" {
		return nil, credentials.ErrCredentialMissing
	}

	return b.tools.Dispatch(ctx, toolName, args, credential)
}

// Disconnect removes the connection, reporting whether it existed. Safe to
// call repeatedly.
func (b *Broker) Disconnect(ctx context.Context, connectionID string) bool {
	existed := b.registry.Remove(connectionID)
	b.log.InfoContext(ctx, "broker.disconnect", slog.String("connection_id", connectionID), slog.Bool("existed", existed))
	return existed
}

// Lookup returns the connection snapshot without touching it.
func (b *Broker) Lookup(connectionID string) (Connection, error) {
	return b.registry.Lookup(connectionID)
}

// ListConnections returns sanitized snapshots of all live connections.
func (b *Broker) ListConnections() []Connection {
	return b.registry.ListActive()
}

// ListTools returns the registered tool descriptors.
func (b *Broker) ListTools() []tools.Descriptor {
	return b.tools.Descriptors()
}
