// Package tools implements the static tool registry shared by both protocol
// front ends: tool descriptors with declared input schemas, required-argument
// validation, and dispatch to the registered backend handler.
//
// Adding a tool is a pure registration. The registry never branches on tool
// names; per-tool behavior (including response post-processing) lives in the
// tool's own handler.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/quendoo/mcp-broker/internal/logctx"
)

// Handler executes a tool call. The credential is the per-request secret the
// backend authenticates with; it is never cached by the registry.
type Handler func(ctx context.Context, credential string, args json.RawMessage) (any, error)

// Tool pairs a client-facing descriptor with its backend handler.
type Tool struct {
	Name        string
	Description string
	InputSchema InputSchema
	Handler     Handler
}

// Descriptor is the client-facing view of a registered tool, shaped for the
// tools/list responses of both transports.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// New constructs a Tool from a typed argument struct A. The input schema is
// reflected from A; fields without omitempty in their json tag are required.
func New[A any](name, description string, fn func(ctx context.Context, credential string, args A) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: reflectInputSchema[A](),
		Handler: func(ctx context.Context, credential string, args json.RawMessage) (any, error) {
			var a A
			if len(args) > 0 {
				if err := json.Unmarshal(args, &a); err != nil {
					return nil, fmt.Errorf("decode arguments: %w", err)
				}
			}
			return fn(ctx, credential, a)
		},
	}
}

// Registry owns the immutable-after-startup set of tools. Reads vastly
// outnumber writes so a RWMutex guards the maps.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool

	log *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for dispatch events. Defaults to a
// discarding logger.
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry constructs a Registry with the given tool definitions.
// Duplicate names are rejected: the tool set is a static contract and a
// silent overwrite would mask a wiring mistake.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	return r
}

// Register adds a tool. It returns an error on a duplicate name.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister registers each tool and panics on error. Intended for startup
// wiring where a duplicate registration is a programming error.
func (r *Registry) MustRegister(defs ...Tool) {
	for _, t := range defs {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Descriptors returns the registered tools in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// Dispatch routes a tool call to its handler. Unknown names and missing
// required arguments fail before the backend is reached; backend failures are
// wrapped in a BackendError so a failing call never propagates a raw fault.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage, credential string) (any, error) {
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.log.InfoContext(ctx, "tool.dispatch.unknown")
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if missing := missingRequired(t.InputSchema.Required, args); len(missing) > 0 {
		r.log.InfoContext(ctx, "tool.dispatch.invalid_args", slog.Any("missing", missing))
		return nil, &InvalidArgumentsError{Tool: name, Missing: missing}
	}

	res, err := t.Handler(ctx, credential, args)
	if err != nil {
		r.log.WarnContext(ctx, "tool.dispatch.fail", slog.String("err", err.Error()))
		return nil, &BackendError{Tool: name, Err: err}
	}
	r.log.InfoContext(ctx, "tool.dispatch.ok")
	return res, nil
}

// missingRequired reports which required fields are absent from the raw
// argument object, in sorted order for stable error messages.
func missingRequired(required []string, args json.RawMessage) []string {
	if len(required) == 0 {
		return nil
	}
	present := map[string]json.RawMessage{}
	if len(args) > 0 {
		// A malformed object is handled by the handler's decode step; here we
		// only check field presence.
		_ = json.Unmarshal(args, &present)
	}
	var missing []string
	for _, name := range required {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
