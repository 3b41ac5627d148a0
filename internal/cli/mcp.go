package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/calyptra/arbor/internal/logging"
	mcpadapter "github.com/calyptra/arbor/pkg/adapters/mcp"
)

// MCPOptions carries the mcp command's flag surface.
type MCPOptions struct {
	RunOptions
	Transport string // stdio | sse
	Port      int
}

// ServeMCP runs the engine as an MCP server over the chosen transport.
// Logs always go to stderr: the stdio transport speaks JSON-RPC on stdout.
func ServeMCP(opts MCPOptions) error {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	logger := logging.New(level)

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	rt, cleanup, err := createRuntime(sigCtx, opts.RunOptions, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := mcpadapter.NewServer(rt, mcpadapter.WithLogger(logger))

	switch opts.Transport {
	case "stdio":
		logger.Info("mcp server starting", "transport", "stdio")
		return srv.ServeStdio()
	case "sse":
		logger.Info("mcp server starting", "transport", "sse", "port", opts.Port)
		if err := srv.ServeSSE(sigCtx, opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("mcp server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport %q (want stdio or sse)", opts.Transport)
	}
}
