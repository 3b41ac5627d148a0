package registry

import (
	"context"
	"sync"

	"github.com/calyptra/arbor/pkg/domain"
)

// Executor performs the work for one step kind. Implementations should
// report failures as a failed StepResult; a non-nil error is treated like
// an uncaught exception and converted to a failed result at the dispatch
// boundary.
type Executor interface {
	// Kind returns the capability name this executor handles.
	Kind() string

	// Execute runs one Step against the read-only RunContext.
	Execute(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error)
}

// ExecuteFunc is the signature of a bare executor implementation.
type ExecuteFunc func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error)

// Func adapts a function into an Executor for the given kind.
func Func(kind string, fn ExecuteFunc) Executor {
	return funcExecutor{kind: kind, fn: fn}
}

type funcExecutor struct {
	kind string
	fn   ExecuteFunc
}

func (f funcExecutor) Kind() string { return f.kind }

func (f funcExecutor) Execute(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
	return f.fn(ctx, step, rc)
}

// Plugin is the registration object consumed by Register: a named,
// versioned bundle of executors. Collaborator-specific capability
// collections beyond Executors are ignored by the engine.
type Plugin struct {
	Name      string
	Version   string
	Executors []Executor
}

// Kinds returns the capability names the plugin provides, in declaration order.
func (p Plugin) Kinds() []string {
	kinds := make([]string, 0, len(p.Executors))
	for _, ex := range p.Executors {
		kinds = append(kinds, ex.Kind())
	}
	return kinds
}

// Info is the introspection view of a registered plugin.
type Info struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Kinds   []string `json:"kinds"`
}

// Registry maps step kinds to executors. Registration is expected to
// happen at startup, before execution begins; the mutex exists so
// introspection endpoints can read safely while runs are active.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	plugins   []Plugin
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register installs every executor of the plugin, overwriting any prior
// executor for the same kind (last registration wins, silently). The
// plugin is also recorded for introspection.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range p.Executors {
		r.executors[ex.Kind()] = ex
	}
	r.plugins = append(r.plugins, p)
}

// Get returns the executor for kind. Found and absent are both normal
// outcomes the caller must check.
func (r *Registry) Get(kind string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[kind]
	return ex, ok
}

// Plugins lists every registered plugin in registration order.
func (r *Registry) Plugins() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		infos = append(infos, Info{Name: p.Name, Version: p.Version, Kinds: p.Kinds()})
	}
	return infos
}
