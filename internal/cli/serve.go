package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calyptra/arbor/internal/logging"
	httpadapter "github.com/calyptra/arbor/pkg/adapters/http"
	"github.com/calyptra/arbor/pkg/metrics"
)

// ServeOptions carries the serve command's flag surface.
type ServeOptions struct {
	RunOptions
	Addr     string
	RunLimit int
}

// Serve runs the HTTP dashboard until a signal arrives. Unlike the one
// shot commands the server always logs: JSON on stderr, so the output can
// be scraped.
func Serve(opts ServeOptions) error {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	logger := logging.NewJSON(level)

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	rt, cleanup, err := createRuntime(sigCtx, opts.RunOptions, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	collector, err := metrics.New(rt.Bus())
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	defer collector.Close()

	srvOpts := []httpadapter.Option{
		httpadapter.WithLogger(logger),
		httpadapter.WithAddr(opts.Addr),
	}
	if opts.RunLimit > 0 {
		srvOpts = append(srvOpts, httpadapter.WithRunLimit(opts.RunLimit))
	}
	srv, err := httpadapter.NewServer(rt, srvOpts...)
	if err != nil {
		return err
	}

	if err := srv.Start(sigCtx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
