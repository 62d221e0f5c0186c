package directhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quendoo/mcp-broker/broker"
	"github.com/quendoo/mcp-broker/credentials"
	"github.com/quendoo/mcp-broker/credentials/memorystore"
	"github.com/quendoo/mcp-broker/tools"
)

type echoArgs struct {
	Message string `json:"message"`
}

type reportArgs struct {
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
}

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	reg := tools.NewRegistry()
	reg.MustRegister(tools.New("echo", "Echo the credential", func(ctx context.Context, credential string, args echoArgs) (any, error) {
		return map[string]string{"credential": credential, "message": args.Message}, nil
	}))
	reg.MustRegister(tools.New("report", "Needs a date range", func(ctx context.Context, credential string, args reportArgs) (any, error) {
		return map[string]string{"range": args.DateFrom + ".." + args.DateTo}, nil
	}))
	reg.MustRegister(tools.New("flaky", "Always fails", func(ctx context.Context, credential string, args struct{}) (any, error) {
		return nil, fmt.Errorf("PMS unavailable")
	}))
	return broker.New(broker.NewRegistry(broker.WithTenantCap(2)), reg)
}

func postJSON(t *testing.T, srv *httptest.Server, path string, headers map[string]string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func getJSON(t *testing.T, srv *httptest.Server, path string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	return doJSON(t, srv, http.MethodGet, path, headers)
}

func deleteJSON(t *testing.T, srv *httptest.Server, path string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	return doJSON(t, srv, http.MethodDelete, path, headers)
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func connect(t *testing.T, srv *httptest.Server, tenantID string) string {
	t.Helper()
	resp, out := postJSON(t, srv, "/mcp/connect", nil, fmt.Sprintf(`{"tenant_id":%q}`, tenantID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status: %d (%v)", resp.StatusCode, out)
	}
	id, _ := out["connection_id"].(string)
	if !strings.HasPrefix(id, "conn_") {
		t.Fatalf("connection_id: %q", id)
	}
	return id
}

func TestConnectExecuteDisconnect(t *testing.T) {
	srv := httptest.NewServer(New(newTestBroker(t), nil))
	defer srv.Close()

	connID := connect(t, srv, "hotel-aurora")

	resp, out := postJSON(t, srv, "/mcp/tools/execute",
		map[string]string{"X-Quendoo-Api-Key": "qk_live_abc"},
		fmt.Sprintf(`{"connection_id":%q,"tool_name":"echo","tool_args":{"message":"hi"}}`, connID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status: %d (%v)", resp.StatusCode, out)
	}
	result, _ := out["result"].(map[string]any)
	if result["credential"] != "qk_live_abc" || result["message"] != "hi" {
		t.Fatalf("result: %v", out)
	}

	resp, out = postJSON(t, srv, "/mcp/disconnect?connection_id="+connID, nil, "")
	if resp.StatusCode != http.StatusOK || out["success"] != true {
		t.Fatalf("disconnect: %d %v", resp.StatusCode, out)
	}

	resp, _ = postJSON(t, srv, "/mcp/disconnect?connection_id="+connID, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second disconnect status: %d", resp.StatusCode)
	}
}

func TestConnectValidation(t *testing.T) {
	srv := httptest.NewServer(New(newTestBroker(t), nil))
	defer srv.Close()

	resp, _ := postJSON(t, srv, "/mcp/connect", nil, `{"tenant_id":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty tenant status: %d", resp.StatusCode)
	}
}

func TestConnectCapacity(t *testing.T) {
	srv := httptest.NewServer(New(newTestBroker(t), nil))
	defer srv.Close()

	connect(t, srv, "hotel-aurora")
	freed := connect(t, srv, "hotel-aurora")

	resp, _ := postJSON(t, srv, "/mcp/connect", nil, `{"tenant_id":"hotel-aurora"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("over-cap status: %d", resp.StatusCode)
	}

	// Other tenants still connect, and removal frees a slot.
	connect(t, srv, "hotel-borealis")
	postJSON(t, srv, "/mcp/disconnect?connection_id="+freed, nil, "")
	connect(t, srv, "hotel-aurora")
}

func TestExecuteErrorMapping(t *testing.T) {
	srv := httptest.NewServer(New(newTestBroker(t), nil))
	defer srv.Close()

	connID := connect(t, srv, "hotel-aurora")
	withKey := map[string]string{"X-Quendoo-Api-Key": "k"}

	t.Run("unknown connection is 404", func(t *testing.T) {
		resp, _ := postJSON(t, srv, "/mcp/tools/execute", withKey,
			`{"connection_id":"conn_ghost","tool_name":"echo","tool_args":{}}`)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	})

	t.Run("unknown tool is 400", func(t *testing.T) {
		resp, _ := postJSON(t, srv, "/mcp/tools/execute", withKey,
			fmt.Sprintf(`{"connection_id":%q,"tool_name":"does_not_exist","tool_args":{}}`, connID))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	})

	t.Run("missing required args is 400 naming the fields", func(t *testing.T) {
		resp, out := postJSON(t, srv, "/mcp/tools/execute", withKey,
			fmt.Sprintf(`{"connection_id":%q,"tool_name":"report","tool_args":{"date_from":"2026-03-01"}}`, connID))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status: %d", resp.StatusCode)
		}
		errObj, _ := out["error"].(map[string]any)
		msg, _ := errObj["message"].(string)
		if !strings.Contains(msg, "date_to") {
			t.Fatalf("message does not name missing field: %q", msg)
		}
	})

	t.Run("missing credential is 400", func(t *testing.T) {
		resp, _ := postJSON(t, srv, "/mcp/tools/execute", nil,
			fmt.Sprintf(`{"connection_id":%q,"tool_name":"echo","tool_args":{}}`, connID))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	})

	t.Run("backend failure is 502 with message", func(t *testing.T) {
		resp, out := postJSON(t, srv, "/mcp/tools/execute", withKey,
			fmt.Sprintf(`{"connection_id":%q,"tool_name":"flaky","tool_args":{}}`, connID))
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("status: %d", resp.StatusCode)
		}
		msg, _ := out["error"].(string)
		if !strings.Contains(msg, "PMS unavailable") {
			t.Fatalf("backend message lost: %v", out)
		}
	})
}

func TestExecuteFallsBackToStoredTenantKey(t *testing.T) {
	store := memorystore.New()
	ctx := context.Background()
	if _, err := store.CreateTenant(ctx, "hotel-aurora", "Hotel Aurora"); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if err := store.PutKey(ctx, "hotel-aurora", credentials.KeyNamePMS, "stored-key"); err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	srv := httptest.NewServer(New(newTestBroker(t), credentials.NewResolver(store)))
	defer srv.Close()

	connID := connect(t, srv, "hotel-aurora")

	// No header: the tenant's stored key applies.
	resp, out := postJSON(t, srv, "/mcp/tools/execute", nil,
		fmt.Sprintf(`{"connection_id":%q,"tool_name":"echo","tool_args":{}}`, connID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status: %d (%v)", resp.StatusCode, out)
	}
	result, _ := out["result"].(map[string]any)
	if result["credential"] != "stored-key" {
		t.Fatalf("result: %v", out)
	}

	// Inline header still wins over the stored key.
	resp, out = postJSON(t, srv, "/mcp/tools/execute",
		map[string]string{"X-Quendoo-Api-Key": "inline-key"},
		fmt.Sprintf(`{"connection_id":%q,"tool_name":"echo","tool_args":{}}`, connID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status: %d", resp.StatusCode)
	}
	result, _ = out["result"].(map[string]any)
	if result["credential"] != "inline-key" {
		t.Fatalf("result: %v", out)
	}
}

func TestListToolsAndConnections(t *testing.T) {
	srv := httptest.NewServer(New(newTestBroker(t), nil))
	defer srv.Close()

	connect(t, srv, "hotel-aurora")

	resp, err := http.Get(srv.URL + "/mcp/tools/list")
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	defer resp.Body.Close()
	var toolsOut struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&toolsOut); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(toolsOut.Tools) != 3 || toolsOut.Tools[0].Name != "echo" {
		t.Fatalf("tools: %+v", toolsOut.Tools)
	}
	if toolsOut.Tools[0].InputSchema["type"] != "object" {
		t.Fatalf("schema: %+v", toolsOut.Tools[0].InputSchema)
	}

	resp2, err := http.Get(srv.URL + "/mcp/connections")
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	defer resp2.Body.Close()
	var connsOut struct {
		Connections []map[string]any `json:"connections"`
		Count       int              `json:"count"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&connsOut); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if connsOut.Count != 1 || connsOut.Connections[0]["tenant_id"] != "hotel-aurora" {
		t.Fatalf("connections: %+v", connsOut)
	}
}

func TestRootAndHealth(t *testing.T) {
	srv := httptest.NewServer(New(newTestBroker(t), nil))
	defer srv.Close()

	for _, path := range []string{"/", "/health"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status: %d", path, resp.StatusCode)
		}
	}
}

func TestExecuteDefersIdleSweep(t *testing.T) {
	// Touch-before-dispatch keeps an active connection alive across creates.
	reg := tools.NewRegistry()
	reg.MustRegister(tools.New("echo", "", func(ctx context.Context, credential string, args struct{}) (any, error) {
		return "ok", nil
	}))
	b := broker.New(broker.NewRegistry(broker.WithIdleTimeout(time.Hour)), reg)
	srv := httptest.NewServer(New(b, nil))
	defer srv.Close()

	connID := connect(t, srv, "hotel-aurora")
	resp, _ := postJSON(t, srv, "/mcp/tools/execute",
		map[string]string{"X-Quendoo-Api-Key": "k"},
		fmt.Sprintf(`{"connection_id":%q,"tool_name":"echo","tool_args":{}}`, connID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status: %d", resp.StatusCode)
	}

	conn, err := b.Lookup(connID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !conn.LastUsedAt.After(conn.CreatedAt) {
		t.Fatalf("execute did not touch the connection")
	}
}
