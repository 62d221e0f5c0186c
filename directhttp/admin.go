package directhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quendoo/mcp-broker/credentials"
	"github.com/quendoo/mcp-broker/internal/httpx"
)

// adminAPI manages tenants and their stored API keys. Every route requires an
// HS256 bearer token signed with the shared admin secret.
type adminAPI struct {
	store     credentials.AdminStore
	resolver  *credentials.Resolver
	jwtSecret []byte
	log       *slog.Logger
}

func (a *adminAPI) mount(mux *http.ServeMux) {
	mux.Handle("POST /admin/tenants", a.authed(a.handleCreateTenant))
	mux.Handle("GET /admin/tenants", a.authed(a.handleListTenants))
	mux.Handle("GET /admin/tenants/{tenant_id}", a.authed(a.handleGetTenant))
	mux.Handle("POST /admin/api-keys", a.authed(a.handlePutKey))
	mux.Handle("GET /admin/api-keys/{tenant_id}", a.authed(a.handleListKeys))
	mux.Handle("DELETE /admin/api-keys/{tenant_id}/{key_name}", a.authed(a.handleDeleteKey))
}

func (a *adminAPI) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			httpx.WriteJSONError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		if _, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			return a.jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()); err != nil {
			a.log.WarnContext(r.Context(), "admin.auth.rejected", slog.String("err", err.Error()))
			httpx.WriteJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	})
}

type tenantCreateRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

type tenantResponse struct {
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *adminAPI) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.Name == "" {
		httpx.WriteJSONError(w, http.StatusBadRequest, "tenant_id and name are required")
		return
	}

	t, err := a.store.CreateTenant(r.Context(), req.TenantID, req.Name)
	if err != nil {
		if errors.Is(err, credentials.ErrTenantExists) {
			httpx.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("tenant already exists: %s", req.TenantID))
			return
		}
		a.log.ErrorContext(r.Context(), "admin.tenant.create.failed", slog.String("err", err.Error()))
		httpx.WriteJSONError(w, http.StatusInternalServerError, "failed to create tenant")
		return
	}
	a.log.InfoContext(r.Context(), "admin.tenant.created", slog.String("tenant_id", t.TenantID))
	httpx.WriteJSON(w, http.StatusOK, tenantResponse{TenantID: t.TenantID, Name: t.Name, CreatedAt: t.CreatedAt})
}

func (a *adminAPI) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	t, err := a.store.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, credentials.ErrTenantNotFound) {
			httpx.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("tenant not found: %s", tenantID))
			return
		}
		httpx.WriteJSONError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tenantResponse{TenantID: t.TenantID, Name: t.Name, CreatedAt: t.CreatedAt})
}

func (a *adminAPI) handleListTenants(w http.ResponseWriter, r *http.Request) {
	ts, err := a.store.ListTenants(r.Context())
	if err != nil {
		httpx.WriteJSONError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}
	out := make([]tenantResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, tenantResponse{TenantID: t.TenantID, Name: t.Name, CreatedAt: t.CreatedAt})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tenants": out, "count": len(out)})
}

type apiKeyCreateRequest struct {
	TenantID string `json:"tenant_id"`
	KeyName  string `json:"key_name"`
	KeyValue string `json:"key_value"`
}

type apiKeyResponse struct {
	TenantID  string    `json:"tenant_id"`
	KeyName   string    `json:"key_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *adminAPI) handlePutKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.KeyName == "" || req.KeyValue == "" {
		httpx.WriteJSONError(w, http.StatusBadRequest, "tenant_id, key_name and key_value are required")
		return
	}

	if err := a.store.PutKey(r.Context(), req.TenantID, req.KeyName, req.KeyValue); err != nil {
		if errors.Is(err, credentials.ErrTenantNotFound) {
			httpx.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("tenant not found: %s", req.TenantID))
			return
		}
		a.log.ErrorContext(r.Context(), "admin.apikey.put.failed", slog.String("err", err.Error()))
		httpx.WriteJSONError(w, http.StatusInternalServerError, "failed to save API key")
		return
	}
	if a.resolver != nil {
		a.resolver.Invalidate(req.TenantID)
	}
	a.log.InfoContext(r.Context(), "admin.apikey.saved",
		slog.String("tenant_id", req.TenantID), slog.String("key_name", req.KeyName))

	keys, err := a.store.ListKeys(r.Context(), req.TenantID)
	if err == nil {
		for _, k := range keys {
			if k.KeyName == req.KeyName {
				httpx.WriteJSON(w, http.StatusOK, apiKeyResponse{
					TenantID:  k.TenantID,
					KeyName:   k.KeyName,
					CreatedAt: k.CreatedAt,
					UpdatedAt: k.UpdatedAt,
				})
				return
			}
		}
	}
	httpx.WriteJSON(w, http.StatusOK, apiKeyResponse{TenantID: req.TenantID, KeyName: req.KeyName})
}

func (a *adminAPI) handleListKeys(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	keys, err := a.store.ListKeys(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, credentials.ErrTenantNotFound) {
			httpx.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("tenant not found: %s", tenantID))
			return
		}
		httpx.WriteJSONError(w, http.StatusInternalServerError, "failed to list API keys")
		return
	}
	out := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, apiKeyResponse{
			TenantID:  k.TenantID,
			KeyName:   k.KeyName,
			CreatedAt: k.CreatedAt,
			UpdatedAt: k.UpdatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "api_keys": out, "count": len(out)})
}

func (a *adminAPI) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	keyName := r.PathValue("key_name")

	deleted, err := a.store.DeleteKey(r.Context(), tenantID, keyName)
	if err != nil {
		httpx.WriteJSONError(w, http.StatusInternalServerError, "failed to delete API key")
		return
	}
	if !deleted {
		httpx.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("API key not found: %s/%s", tenantID, keyName))
		return
	}
	if a.resolver != nil {
		a.resolver.Invalidate(tenantID)
	}
	a.log.InfoContext(r.Context(), "admin.apikey.deleted",
		slog.String("tenant_id", tenantID), slog.String("key_name", keyName))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "tenant_id": tenantID, "key_name": keyName})
}
