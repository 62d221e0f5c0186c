// Package directhttp exposes the broker's request/response front end: a
// client connects with a tenant id, executes tools against its connection id,
// and disconnects. Credentials arrive inline via the X-Quendoo-Api-Key header
// or, failing that, are resolved from the credential store by tenant id.
package directhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quendoo/mcp-broker/broker"
	"github.com/quendoo/mcp-broker/credentials"
	"github.com/quendoo/mcp-broker/internal/httpx"
	"github.com/quendoo/mcp-broker/internal/logctx"
	"github.com/quendoo/mcp-broker/tools"
)

var _ http.Handler = (*Handler)(nil)

const apiKeyHeader = "X-Quendoo-Api-Key"

// Handler serves the direct-mode API plus the service's root, health and
// admin endpoints.
type Handler struct {
	broker   *broker.Broker
	resolver *credentials.Resolver
	admin    *adminAPI
	log      *slog.Logger

	serviceName    string
	serviceVersion string

	mux *http.ServeMux
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithAdminAPI mounts the tenant/key management surface, guarded by HS256
// bearer tokens signed with jwtSecret.
func WithAdminAPI(store credentials.AdminStore, jwtSecret string) Option {
	return func(h *Handler) {
		h.admin = &adminAPI{store: store, jwtSecret: []byte(jwtSecret)}
	}
}

// WithServiceInfo overrides the name and version reported by the root and
// health endpoints.
func WithServiceInfo(name, version string) Option {
	return func(h *Handler) {
		h.serviceName = name
		h.serviceVersion = version
	}
}

// New constructs the direct-mode handler. The resolver may be nil, in which
// case execute requires an inline API key on every call.
func New(b *broker.Broker, resolver *credentials.Resolver, opts ...Option) *Handler {
	h := &Handler{
		broker:         b,
		resolver:       resolver,
		log:            slog.New(slog.DiscardHandler),
		serviceName:    "quendoo-broker",
		serviceVersion: "1.0.0",
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp/connect", h.handleConnect)
	mux.HandleFunc("POST /mcp/tools/execute", h.handleExecute)
	mux.HandleFunc("POST /mcp/disconnect", h.handleDisconnect)
	mux.HandleFunc("GET /mcp/tools/list", h.handleListTools)
	mux.HandleFunc("GET /mcp/connections", h.handleListConnections)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /{$}", h.handleRoot)
	if h.admin != nil {
		h.admin.log = h.log
		h.admin.resolver = resolver
		h.admin.mount(mux)
	}
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type connectRequest struct {
	TenantID string            `json:"tenant_id"`
	UserID   string            `json:"user_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type connectResponse struct {
	ConnectionID string    `json:"connection_id"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conn, err := h.broker.Connect(ctx, req.TenantID, req.UserID, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrTenantMissing):
			httpx.WriteJSONError(w, http.StatusBadRequest, "tenant_id is required")
		case errors.Is(err, broker.ErrCapacityExceeded):
			httpx.WriteJSONError(w, http.StatusTooManyRequests,
				fmt.Sprintf("connection limit reached for tenant %s", req.TenantID))
		default:
			httpx.WriteJSONError(w, http.StatusInternalServerError, "connection failed")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, connectResponse{
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		CreatedAt:    conn.CreatedAt,
	})
}

type executeRequest struct {
	ConnectionID string          `json:"connection_id"`
	ToolName     string          `json:"tool_name"`
	ToolArgs     json.RawMessage `json:"tool_args,omitempty"`
}

type executeResponse struct {
	ConnectionID string `json:"connection_id"`
	ToolName     string `json:"tool_name"`
	Result       any    `json:"result"`
	Error        string `json:"error,omitempty"`
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConnectionID == "" || req.ToolName == "" {
		httpx.WriteJSONError(w, http.StatusBadRequest, "connection_id and tool_name are required")
		return
	}

	conn, err := h.broker.Lookup(req.ConnectionID)
	if err != nil {
		httpx.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("connection not found: %s", req.ConnectionID))
		return
	}
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnectionID: conn.ID, TenantID: conn.TenantID, UserID: conn.UserID})

	credential, err := h.resolveCredential(r, conn.TenantID)
	if err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("no API key available: provide the %s header or store one for tenant %s", apiKeyHeader, conn.TenantID))
		return
	}

	result, err := h.broker.CallTool(ctx, req.ConnectionID, req.ToolName, req.ToolArgs, credential)
	if err != nil {
		h.writeExecuteError(w, &req, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, executeResponse{
		ConnectionID: req.ConnectionID,
		ToolName:     req.ToolName,
		Result:       result,
	})
}

// resolveCredential prefers the inline header; without one it falls back to
// the tenant's stored key.
func (h *Handler) resolveCredential(r *http.Request, tenantID string) (string, error) {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key, nil
	}
	if h.resolver == nil {
		return "", credentials.ErrCredentialMissing
	}
	return h.resolver.ResolveTenant(r.Context(), tenantID)
}

// writeExecuteError maps dispatch failures onto distinct statuses: expired
// connections read as 404, caller mistakes as 400, and downstream failures as
// 502 with the backend message preserved in the response envelope.
func (h *Handler) writeExecuteError(w http.ResponseWriter, req *executeRequest, err error) {
	var invalidArgs *tools.InvalidArgumentsError
	var backendErr *tools.BackendError
	switch {
	case errors.Is(err, broker.ErrNotFound):
		httpx.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("connection not found: %s", req.ConnectionID))
	case errors.Is(err, tools.ErrUnknownTool):
		httpx.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown tool: %s", req.ToolName))
	case errors.As(err, &invalidArgs):
		httpx.WriteJSONError(w, http.StatusBadRequest, invalidArgs.Error())
	case errors.Is(err, credentials.ErrCredentialMissing):
		httpx.WriteJSONError(w, http.StatusBadRequest, "no usable API key for this call")
	case errors.As(err, &backendErr):
		httpx.WriteJSON(w, http.StatusBadGateway, executeResponse{
			ConnectionID: req.ConnectionID,
			ToolName:     req.ToolName,
			Error:        backendErr.Error(),
		})
	default:
		httpx.WriteJSONError(w, http.StatusInternalServerError, "tool execution failed")
	}
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	connectionID := r.URL.Query().Get("connection_id")
	if connectionID == "" {
		httpx.WriteJSONError(w, http.StatusBadRequest, "missing connection_id")
		return
	}
	if !h.broker.Disconnect(r.Context(), connectionID) {
		httpx.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("connection not found: %s", connectionID))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"connection_id": connectionID,
	})
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tools": h.broker.ListTools()})
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns := h.broker.ListConnections()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"connections": conns,
		"count":       len(conns),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": h.serviceName,
		"version": h.serviceVersion,
	})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]any{
		"mcp": []string{
			"POST /mcp/connect",
			"POST /mcp/tools/execute",
			"POST /mcp/disconnect",
			"GET /mcp/tools/list",
			"GET /mcp/connections",
		},
	}
	if h.admin != nil {
		endpoints["admin"] = []string{
			"POST /admin/tenants",
			"GET /admin/tenants",
			"GET /admin/tenants/{tenant_id}",
			"POST /admin/api-keys",
			"GET /admin/api-keys/{tenant_id}",
			"DELETE /admin/api-keys/{tenant_id}/{key_name}",
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"name":      h.serviceName,
		"version":   h.serviceVersion,
		"status":    "running",
		"endpoints": endpoints,
	})
}
