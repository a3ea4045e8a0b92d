// Package agent executes registered automation agents against tasks and
// records every run as a signed execution record.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	stdsync "sync"
)

var (
	// ErrAgentNotFound means no agent record exists for the requested ID.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrFunctionNotExported means the local entrypoint exists but does not
	// export the requested function.
	ErrFunctionNotExported = errors.New("function not exported by entrypoint")

	// ErrLocalEngineConfig means a local engine declares neither an
	// entrypoint nor a runtime.
	ErrLocalEngineConfig = errors.New("local engine requires entrypoint or runtime")

	// ErrAPIEngineConfig means an api engine is missing its url.
	ErrAPIEngineConfig = errors.New("api engine requires url")

	// ErrMissingDependency means the engine needs a collaborator (identity
	// adapter, runtime handler) that was not wired in.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrUnsupportedEngineType rejects engine types this runner does not
	// know.
	ErrUnsupportedEngineType = errors.New("unsupported engine type")
)

// DefaultFunction is invoked when the engine names no function.
const DefaultFunction = "runAgent"

// ExecContext is handed to every agent invocation.
type ExecContext struct {
	AgentID string          `json:"agentId"`
	ActorID string          `json:"actorId"`
	TaskID  string          `json:"taskId"`
	RunID   string          `json:"runId"`
	Input   json.RawMessage `json:"input,omitempty"`
}

// Func is one exported agent function.
type Func func(ctx context.Context, ec ExecContext) (json.RawMessage, error)

// RuntimeHandler runs every agent bound to a named runtime (or protocol,
// for mcp engines).
type RuntimeHandler func(ctx context.Context, ec ExecContext) (json.RawMessage, error)

// Registry maps entrypoints and runtimes to executable handlers. Go has
// no dynamic module loading, so local entrypoints are registered up front
// by the embedding process.
type Registry struct {
	mu        stdsync.RWMutex
	runtimes  map[string]RuntimeHandler
	functions map[string]map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runtimes:  map[string]RuntimeHandler{},
		functions: map[string]map[string]Func{},
	}
}

// RegisterRuntime binds a handler to a runtime name.
func (r *Registry) RegisterRuntime(name string, h RuntimeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[name] = h
}

// RegisterFunction exports a function under an entrypoint.
func (r *Registry) RegisterFunction(entrypoint, function string, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions[entrypoint] == nil {
		r.functions[entrypoint] = map[string]Func{}
	}
	r.functions[entrypoint][function] = f
}

// Runtime looks up a runtime handler.
func (r *Registry) Runtime(name string) (RuntimeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.runtimes[name]
	return h, ok
}

// Function resolves an entrypoint export. The bools distinguish "unknown
// entrypoint" from "entrypoint known, function missing".
func (r *Registry) Function(entrypoint, function string) (Func, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fns, entryOK := r.functions[entrypoint]
	if !entryOK {
		return nil, false, false
	}
	f, ok := fns[function]
	return f, true, ok
}
