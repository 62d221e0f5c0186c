package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/quendoo/mcp-broker/broker"
	"github.com/quendoo/mcp-broker/internal/httpx"
	"github.com/quendoo/mcp-broker/internal/jsonrpc"
	"github.com/quendoo/mcp-broker/internal/logctx"
	"github.com/quendoo/mcp-broker/tools"
)

var _ http.Handler = (*Handler)(nil)

const (
	apiKeyHeader = "X-Quendoo-Api-Key"

	protocolVersion = "2024-11-05"
	serverName      = "quendoo-broker"
	serverVersion   = "1.0.0"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and avoids
// writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// Handler serves the stream-mode front end: GET /sse opens the event stream
// and POST /messages/ carries the JSON-RPC frames for a session.
type Handler struct {
	broker   *broker.Broker
	sessions *sessionTable
	log      *slog.Logger

	keepAliveInterval time.Duration
	messagesPath      string

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

// WithKeepAliveInterval sets the cadence of liveness comments on open
// streams.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepAliveInterval = d
		}
	}
}

// New constructs the stream-mode handler over the given broker.
func New(b *broker.Broker, opts ...Option) *Handler {
	h := &Handler{
		broker:            b,
		sessions:          newSessionTable(),
		log:               slog.New(slog.DiscardHandler),
		keepAliveInterval: 30 * time.Second,
		messagesPath:      "/messages/",
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", h.handleStream)
	mux.HandleFunc("POST /messages/", h.handleMessage)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Close tears down every open session. Streams observe this through their
// session's done channel and end their response.
func (h *Handler) Close(ctx context.Context) {
	for _, s := range h.sessions.all() {
		h.sessions.close(ctx, s, h.broker, h.log)
	}
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})

	if accept := r.Header.Get("Accept"); accept != "" {
		if _, _, err := contenttype.GetAcceptableMediaTypeFromHeader(accept, eventStreamMediaTypes); err != nil {
			httpx.WriteJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			return
		}
	}
	f, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sess := h.sessions.open()
	if key := r.Header.Get(apiKeyHeader); key != "" {
		sess.setAPIKey(key)
	}
	defer h.sessions.close(ctx, sess, h.broker, h.log)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	endpoint := fmt.Sprintf("%s?session_id=%s", h.messagesPath, sess.id)
	if _, err := fmt.Fprintf(wf, "event: endpoint\ndata: %s\n\n", endpoint); err != nil {
		return
	}
	wf.Flush()

	h.log.InfoContext(ctx, "session.opened", slog.String("session_id", sess.id))

	ticker := time.NewTicker(h.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case <-ticker.C:
			if _, err := io.WriteString(wf, ": keepalive\n\n"); err != nil {
				return
			}
			wf.Flush()
		}
	}
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		httpx.WriteJSONError(w, http.StatusBadRequest, "missing session_id")
		return
	}
	sess, ok := h.sessions.lookup(sessionID)
	if !ok {
		httpx.WriteJSONError(w, http.StatusNotFound, "unknown session")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessionID})

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeFrame(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error"))
		return
	}

	if key := r.Header.Get(apiKeyHeader); key != "" {
		sess.setAPIKey(key)
	}

	resp := h.dispatchFramed(ctx, sess, &req)
	if resp == nil {
		// Notification: acknowledged, nothing to return.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeFrame(w, statusForFrame(resp), resp)
}

// dispatchFramed routes one JSON-RPC frame for a session. Notifications
// (frames without an id) return nil.
func (h *Handler) dispatchFramed(ctx context.Context, sess *session, req *jsonrpc.Request) *jsonrpc.Response {
	log := h.log.With(slog.String("session_id", sess.id), slog.String("method", req.Method))

	switch req.Method {
	case "initialize":
		log.InfoContext(ctx, "session.initialize")
		return mustResult(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": serverVersion,
			},
		})

	case "notifications/initialized":
		return nil

	case "tools/list":
		return mustResult(req.ID, map[string]any{"tools": h.broker.ListTools()})

	case "tools/call":
		return h.dispatchToolCall(ctx, sess, req)

	default:
		if req.ID.IsNil() {
			return nil
		}
		log.WarnContext(ctx, "session.method.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (h *Handler) dispatchToolCall(ctx context.Context, sess *session, req *jsonrpc.Request) *jsonrpc.Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params")
		}
	}
	if params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params: missing tool name")
	}

	key := sess.pendingKey()
	if key == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeCredentialMissing,
			fmt.Sprintf("API key required: set the %s header before calling tools", apiKeyHeader))
	}

	connID, err := h.sessions.ensureConnection(ctx, sess, h.broker)
	if err != nil {
		h.log.ErrorContext(ctx, "session.bind.failed", slog.String("session_id", sess.id), slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to bind session connection")
	}

	result, err := h.broker.CallTool(ctx, connID, params.Name, params.Arguments, key)
	if err != nil {
		return toolCallError(req.ID, params.Name, err)
	}
	return mustResult(req.ID, result)
}

func toolCallError(id *jsonrpc.RequestID, toolName string, err error) *jsonrpc.Response {
	var invalidArgs *tools.InvalidArgumentsError
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("unknown tool: %s", toolName))
	case errors.As(err, &invalidArgs):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, invalidArgs.Error())
	default:
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeToolFailure, fmt.Sprintf("tool execution failed: %s", err.Error()))
	}
}

// statusForFrame maps a JSON-RPC error frame onto the HTTP status the wire
// contract fixes for it: method-not-found is 404, credential problems are
// 400, tool failures are 500, everything else rides a 200.
func statusForFrame(resp *jsonrpc.Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case jsonrpc.ErrorCodeMethodNotFound:
		return http.StatusNotFound
	case jsonrpc.ErrorCodeParseError, jsonrpc.ErrorCodeInvalidRequest, jsonrpc.ErrorCodeInvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeFrame(w http.ResponseWriter, status int, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func mustResult(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result")
	}
	return resp
}
