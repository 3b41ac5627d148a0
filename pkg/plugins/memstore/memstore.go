// Package memstore provides the executor for steps of kind "memory": a
// process-local key/value store so steps in one plan can hand values to
// later steps. The store is injectable, letting several plugins or the
// host share one map.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/registry"
)

// Kind is the capability name this plugin serves.
const Kind = "memory"

// Store is a mutex-guarded map. The zero value is not usable; call
// NewStore.
type Store struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]any)}
}

// Set stores value under key, replacing any prior value.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Get returns the value under key and whether it exists.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Delete removes key, reporting whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Keys returns every key in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Executor serves memory-kind steps against one Store.
type Executor struct {
	store *Store
}

// Option configures the executor.
type Option func(*Executor)

// WithStore shares an existing store instead of a private one.
func WithStore(store *Store) Option {
	return func(e *Executor) {
		if store != nil {
			e.store = store
		}
	}
}

// New creates the memory executor with a private store by default.
func New(opts ...Option) *Executor {
	e := &Executor{store: NewStore()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plugin wraps the executor in a registration object for Runtime.Use.
func Plugin(opts ...Option) registry.Plugin {
	return registry.Plugin{
		Name:      "memstore",
		Version:   "1.0.0",
		Executors: []registry.Executor{New(opts...)},
	}
}

func (e *Executor) Kind() string { return Kind }

// Store exposes the backing store, e.g. for host-side inspection.
func (e *Executor) Store() *Store { return e.store }

type params struct {
	Op    string `mapstructure:"op"`
	Key   string `mapstructure:"key"`
	Value any    `mapstructure:"value"`
}

// Execute performs one of the ops set, get, delete, keys. A get on an
// absent key succeeds with found=false; only malformed params fail.
func (e *Executor) Execute(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
	result := domain.StepResult{StepID: step.ID}

	var p params
	if err := mapstructure.Decode(step.Params, &p); err != nil {
		return failed(result, fmt.Sprintf("invalid memory params: %v", err)), nil
	}

	switch p.Op {
	case "set":
		if p.Key == "" {
			return failed(result, "memory set requires a key param"), nil
		}
		e.store.Set(p.Key, p.Value)
		result.Outputs = map[string]any{"key": p.Key}
	case "get":
		if p.Key == "" {
			return failed(result, "memory get requires a key param"), nil
		}
		value, found := e.store.Get(p.Key)
		result.Outputs = map[string]any{"key": p.Key, "value": value, "found": found}
	case "delete":
		if p.Key == "" {
			return failed(result, "memory delete requires a key param"), nil
		}
		result.Outputs = map[string]any{"key": p.Key, "deleted": e.store.Delete(p.Key)}
	case "keys":
		keys := e.store.Keys()
		result.Outputs = map[string]any{"keys": keys, "count": len(keys)}
	default:
		return failed(result, fmt.Sprintf("unknown memory op %q", p.Op)), nil
	}

	result.Status = domain.StepSucceeded
	return result, nil
}

func failed(result domain.StepResult, message string) domain.StepResult {
	result.Status = domain.StepFailed
	result.Error = &domain.Error{Message: message}
	return result
}
