package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/calyptra/arbor"
	"github.com/calyptra/arbor/pkg/adapters/file"
	"github.com/calyptra/arbor/pkg/adapters/redis"
	"github.com/calyptra/arbor/pkg/adapters/sqlite"
	"github.com/calyptra/arbor/pkg/persistence/middleware"
	"github.com/calyptra/arbor/pkg/plugins/httpcall"
	"github.com/calyptra/arbor/pkg/plugins/memstore"
	"github.com/calyptra/arbor/pkg/plugins/shell"
	"github.com/calyptra/arbor/pkg/policy"
	"github.com/calyptra/arbor/pkg/ports"
)

// RunOptions carries the flag surface shared by every command that builds
// a runtime: run, serve, and queue work.
type RunOptions struct {
	PlanPath string
	Context  string // Raw JSON string
	JSON     bool
	Quiet    bool
	Debug    bool

	Store    string // memory | file | redis | sqlite
	EventLog string
	RedisURL string
	DBPath   string

	EncryptionKeyFile string
	MaskKeys          []string

	CommandsPath string
	UnsafeInline bool

	PolicyPath string
	Gated      bool

	MaxParallelism int
}

// createRuntime initializes an arbor runtime with standard CLI
// conventions: the selected event store wrapped in the configured
// middleware, the built-in plugins, and an admission gate when asked for.
// The returned cleanup releases the store.
func createRuntime(ctx context.Context, opts RunOptions, logger *slog.Logger) (*arbor.Runtime, func(), error) {
	store, closeStore, err := createStore(opts)
	if err != nil {
		return nil, nil, err
	}

	store, err = wrapStore(store, opts)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	rtOpts := []arbor.Option{
		arbor.WithLogger(logger),
	}
	if store != nil {
		rtOpts = append(rtOpts, arbor.WithStore(store))
	}
	if opts.MaxParallelism > 0 {
		rtOpts = append(rtOpts, arbor.WithMaxParallelism(opts.MaxParallelism))
	}

	if opts.Gated || opts.PolicyPath != "" {
		gate, err := createGate(ctx, opts.PolicyPath)
		if err != nil {
			closeStore()
			return nil, nil, err
		}
		rtOpts = append(rtOpts, arbor.WithAdmissionGate(gate))
	}

	rt, err := arbor.New(rtOpts...)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("error initializing runtime: %w", err)
	}

	if err := installPlugins(rt, opts, logger); err != nil {
		closeStore()
		return nil, nil, err
	}

	return rt, closeStore, nil
}

// createStore picks the event store backend from the flags. The cleanup
// func is a no-op for backends without teardown.
func createStore(opts RunOptions) (ports.EventStore, func(), error) {
	nop := func() {}
	switch opts.Store {
	case "", "file":
		return file.NewStore(opts.EventLog), nop, nil
	case "memory":
		// nil lets arbor.New fall back to its in-memory default.
		return nil, nop, nil
	case "redis":
		addr, password, db, err := parseRedisURL(opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redis.New(addr, password, db), nop, nil
	case "sqlite":
		dsn := opts.DBPath
		if dsn == "" {
			dsn = ".arbor/events.db"
		}
		store, err := sqlite.New(dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want memory, file, redis, or sqlite)", opts.Store)
	}
}

// wrapStore layers the configured store middleware: masking runs before
// encryption so sealed payloads already have their PII redacted.
func wrapStore(store ports.EventStore, opts RunOptions) (ports.EventStore, error) {
	if store == nil {
		return nil, nil
	}

	var mws []middleware.Middleware
	if len(opts.MaskKeys) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(opts.MaskKeys))
	}
	if opts.EncryptionKeyFile != "" {
		key, err := loadEncryptionKey(opts.EncryptionKeyFile)
		if err != nil {
			return nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	if len(mws) == 0 {
		return store, nil
	}
	return middleware.Wrap(store, mws...), nil
}

// loadEncryptionKey reads a hex-encoded 256-bit key from a file.
func loadEncryptionKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("encryption key must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// createGate compiles the admission policy. An empty path means the
// built-in constraints policy.
func createGate(ctx context.Context, path string) (*policy.Gate, error) {
	if path == "" {
		return policy.New(ctx)
	}
	module, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return policy.New(ctx, policy.WithModule(string(module)))
}

// installPlugins registers the built-in executors. The shell allow-list
// follows a convention: a missing commands file means no commands, not an
// error, so plans that never use kind:shell are unaffected.
func installPlugins(rt *arbor.Runtime, opts RunOptions, logger *slog.Logger) error {
	commands, err := shell.LoadCommands(opts.CommandsPath)
	if err != nil {
		return fmt.Errorf("failed to load shell commands: %w", err)
	}
	logger.Debug("shell allow-list loaded", "path", opts.CommandsPath, "commands", len(commands))

	rt.Use(shell.Plugin(
		shell.WithCommands(commands),
		shell.WithInlineExecution(opts.UnsafeInline),
	))
	rt.Use(httpcall.Plugin())
	rt.Use(memstore.Plugin())
	return nil
}

// ListPlugins prints the built-in plugin registrations, one per line. The
// store never matters for introspection, so the in-memory one serves.
func ListPlugins(opts RunOptions) error {
	logger := createLogger(opts.Debug)
	opts.Store = "memory"

	rt, cleanup, err := createRuntime(context.Background(), opts, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, info := range rt.Plugins() {
		fmt.Printf("%-12s %-8s kinds: %s\n", info.Name, info.Version, strings.Join(info.Kinds, ", "))
	}
	return nil
}

// parseRedisURL splits host:port, redis://host:port, or
// redis://:password@host:port/db into client settings.
func parseRedisURL(raw string) (addr, password string, db int, err error) {
	if raw == "" {
		return "localhost:6379", "", 0, nil
	}
	addr = strings.TrimPrefix(raw, "redis://")
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		cred := addr[:at]
		addr = addr[at+1:]
		if colon := strings.Index(cred, ":"); colon >= 0 {
			password = cred[colon+1:]
		} else {
			password = cred
		}
	}
	if slash := strings.Index(addr, "/"); slash >= 0 {
		if _, scanErr := fmt.Sscanf(addr[slash+1:], "%d", &db); scanErr != nil {
			return "", "", 0, fmt.Errorf("invalid redis db in %q", raw)
		}
		addr = addr[:slash]
	}
	return addr, password, db, nil
}
