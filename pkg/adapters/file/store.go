// Package file implements ports.EventStore as an append-only NDJSON log:
// one JSON-encoded event per line. This is the persisted log format read
// by the CLI and the dashboard independently of the in-process bus.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

// DefaultLogPath is the project-local event log location.
const DefaultLogPath = ".arbor/events.ndjson"

// Option configures a Store.
type Option func(*Store)

// WithLock guards every append with a flock sidecar (<path>.lock), for
// deployments where multiple processes share one log file. Off by
// default: the store assumes a single writer process.
func WithLock() Option {
	return func(s *Store) { s.useLock = true }
}

// Store appends events to an NDJSON file. Each Append is a separate
// synchronous write. Reads re-parse the whole file, silently skipping
// malformed lines rather than failing the whole read.
type Store struct {
	path    string
	useLock bool

	mu sync.Mutex // serializes appends within this process
}

// NewStore creates a store over the given path. Parent directories are
// created lazily on first append.
func NewStore(path string, opts ...Option) *Store {
	if path == "" {
		path = DefaultLogPath
	}
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the log file location.
func (s *Store) Path() string { return s.path }

// Append marshals the event and writes it as one line.
func (s *Store) Append(ctx context.Context, evt domain.Event) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}

	if s.useLock {
		lock := flock.New(s.path + ".lock")
		if err := lock.Lock(); err != nil {
			return fmt.Errorf("acquire lock on %s: %w", s.path, err)
		}
		defer lock.Unlock()
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to event log %s: %w", s.path, err)
	}
	return nil
}

// List re-reads the file and applies the standard filter/sort/limit
// semantics. A missing file is an empty log, not an error.
func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]domain.Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log %s: %w", s.path, err)
	}
	defer f.Close()

	events, err := decodeLines(f)
	if err != nil {
		return nil, err
	}
	return ports.ApplyListOptions(events, opts), nil
}

func decodeLines(f *os.File) ([]domain.Event, error) {
	var events []domain.Event
	scanner := bufio.NewScanner(f)
	// Events carry caller payloads; allow lines well past the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt domain.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			// A torn or hand-edited line must not poison the whole log.
			continue
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log %s: %w", f.Name(), err)
	}
	return events, nil
}
