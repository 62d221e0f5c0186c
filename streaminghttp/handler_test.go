package streaminghttp

import (
	"bufio"
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
	"github.com/quendoo/mcp-broker/internal/jsonrpc"
	"github.com/quendoo/mcp-broker/tools"
)

type echoArgs struct {
	Message string `json:"message"`
}

func newTestHandler(t *testing.T) (*Handler, *broker.Broker) {
	t.Helper()
	reg := tools.NewRegistry()
	reg.MustRegister(tools.New("echo", "Echo the credential", func(ctx context.Context, credential string, args echoArgs) (any, error) {
		return map[string]string{"credential": credential, "message": args.Message}, nil
	}))
	reg.MustRegister(tools.New("flaky", "Always fails", func(ctx context.Context, credential string, args struct{}) (any, error) {
		return nil, fmt.Errorf("PMS unavailable")
	}))
	b := broker.New(broker.NewRegistry(broker.WithCapExemption(SentinelTenant)), reg)
	h := New(b, WithKeepAliveInterval(50*time.Millisecond))
	return h, b
}

// openStream opens /sse and returns the messages endpoint from the handshake
// event plus a closer that ends the stream.
func openStream(t *testing.T, srv *httptest.Server) (string, func()) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("stream status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		t.Fatalf("content type: %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if after, ok := strings.CutPrefix(line, "event: "); ok {
			event = after
		}
		if after, ok := strings.CutPrefix(line, "data: "); ok {
			data = after
			break
		}
	}
	if event != "endpoint" {
		resp.Body.Close()
		t.Fatalf("first event: %q", event)
	}
	if !strings.HasPrefix(data, "/messages/?session_id=session_") {
		resp.Body.Close()
		t.Fatalf("endpoint data: %q", data)
	}
	return data, func() { resp.Body.Close() }
}

func postFrame(t *testing.T, srv *httptest.Server, endpoint string, headers map[string]string, frame string) (*http.Response, *jsonrpc.Response) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+endpoint, bytes.NewReader([]byte(frame)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post frame: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		return resp, nil
	}
	var out jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return resp, &out
}

func TestHandshakeAndInitialize(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	endpoint, closeStream := openStream(t, srv)
	defer closeStream()

	resp, frame := postFrame(t, srv, endpoint, nil, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status: %d", resp.StatusCode)
	}
	if frame.Error != nil {
		t.Fatalf("initialize error: %+v", frame.Error)
	}
	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(frame.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ProtocolVersion != "2024-11-05" {
		t.Fatalf("protocol version: %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name == "" {
		t.Fatalf("missing server info")
	}
}

func TestToolsList(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	endpoint, closeStream := openStream(t, srv)
	defer closeStream()

	_, frame := postFrame(t, srv, endpoint, nil, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if frame.Error != nil {
		t.Fatalf("tools/list error: %+v", frame.Error)
	}
	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(frame.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Tools) != 2 || result.Tools[0].Name != "echo" {
		t.Fatalf("tools: %+v", result.Tools)
	}
}

func TestToolCallWithoutCredential(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	endpoint, closeStream := openStream(t, srv)
	defer closeStream()

	resp, frame := postFrame(t, srv, endpoint, nil,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if frame.Error == nil || frame.Error.Code != jsonrpc.ErrorCodeCredentialMissing {
		t.Fatalf("error frame: %+v", frame.Error)
	}
}

func TestToolCallReusesPendingCredential(t *testing.T) {
	h, b := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	endpoint, closeStream := openStream(t, srv)
	defer closeStream()

	// First call supplies the key inline.
	_, frame := postFrame(t, srv, endpoint, map[string]string{"X-Quendoo-Api-Key": "qk_live_abc"},
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`)
	if frame.Error != nil {
		t.Fatalf("first call error: %+v", frame.Error)
	}
	var result map[string]string
	if err := json.Unmarshal(frame.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result["credential"] != "qk_live_abc" || result["message"] != "hi" {
		t.Fatalf("result: %+v", result)
	}

	// Second call omits the header; the session's pending credential applies.
	_, frame = postFrame(t, srv, endpoint, nil,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
	if frame.Error != nil {
		t.Fatalf("second call error: %+v", frame.Error)
	}

	// The session binds exactly one connection under the sentinel tenant.
	conns := b.ListConnections()
	if len(conns) != 1 || conns[0].TenantID != SentinelTenant {
		t.Fatalf("connections: %+v", conns)
	}
}

func TestToolCallBackendFailure(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	endpoint, closeStream := openStream(t, srv)
	defer closeStream()

	resp, frame := postFrame(t, srv, endpoint, map[string]string{"X-Quendoo-Api-Key": "k"},
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"flaky","arguments":{}}}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if frame.Error == nil || frame.Error.Code != jsonrpc.ErrorCodeToolFailure {
		t.Fatalf("error frame: %+v", frame.Error)
	}
	if !strings.Contains(frame.Error.Message, "PMS unavailable") {
		t.Fatalf("backend message lost: %q", frame.Error.Message)
	}
}

func TestUnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	endpoint, closeStream := openStream(t, srv)
	defer closeStream()

	resp, frame := postFrame(t, srv, endpoint, nil, `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if frame.Error == nil || frame.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("error frame: %+v", frame.Error)
	}
}

func TestUnknownSession(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/messages/?session_id=session_ghost", "application/json",
		bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestStreamTeardownCleansUpOnce(t *testing.T) {
	h, b := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	endpoint, closeStream := openStream(t, srv)

	_, frame := postFrame(t, srv, endpoint, map[string]string{"X-Quendoo-Api-Key": "k"},
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
	if frame.Error != nil {
		t.Fatalf("call error: %+v", frame.Error)
	}
	if got := len(b.ListConnections()); got != 1 {
		t.Fatalf("connections before teardown: %d", got)
	}

	// Client disconnect and server shutdown race; cleanup must run once and
	// tolerate the second signal.
	closeStream()
	h.Close(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(b.ListConnections()) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection not released after teardown")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The session is gone; its endpoint rejects further frames.
	resp, err := http.Post(srv.URL+endpoint, "application/json",
		bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)))
	if err != nil {
		t.Fatalf("post after teardown: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after teardown: %d", resp.StatusCode)
	}
}

func TestKeepalivesFlow(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sawKeepalive := false
	deadline := time.After(2 * time.Second)
	lines := make(chan string)
	go func() {
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	for !sawKeepalive {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream ended before keepalive")
			}
			if strings.HasPrefix(line, ": keepalive") {
				sawKeepalive = true
			}
		case <-deadline:
			t.Fatalf("no keepalive within deadline")
		}
	}
}
