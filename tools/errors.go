package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is returned when a dispatch names a tool that was never
// registered. It is always detected before any backend is invoked.
var ErrUnknownTool = errors.New("unknown tool")

// InvalidArgumentsError reports required fields absent from a tool call.
// Validation happens against the tool's declared schema before the handler
// runs, so a failing call never reaches the downstream backend.
type InvalidArgumentsError struct {
	Tool    string
	Missing []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: missing required field(s): %s", e.Tool, strings.Join(e.Missing, ", "))
}

// BackendError wraps a failure raised by a tool backend. The original message
// is preserved for diagnostics; callers map it to a structured error result
// instead of letting it propagate as a fault.
type BackendError struct {
	Tool string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
