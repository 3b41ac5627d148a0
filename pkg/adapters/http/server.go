// Package http exposes the arbor runtime over a JSON API: plan execution,
// plugin and run introspection, event log queries, a live websocket event
// stream for the dashboard, and prometheus metrics. The API shape is
// described by the embedded OpenAPI document served at /openapi.yaml.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calyptra/arbor"
	"github.com/calyptra/arbor/internal/logging"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
	"github.com/calyptra/arbor/pkg/observability"
	"github.com/calyptra/arbor/pkg/planfile"
	"github.com/calyptra/arbor/pkg/ports"
	"github.com/calyptra/arbor/pkg/registry"
)

//go:embed openapi.yaml
var openAPISpec []byte

// Runtime is the slice of the arbor runtime the server drives.
// *arbor.Runtime satisfies it.
type Runtime interface {
	Execute(ctx context.Context, plan *domain.Plan, rc domain.RunContext) domain.PlanResult
	Plugins() []registry.Info
	Bus() *eventbus.Bus
	Store() ports.EventStore
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithAddr sets the listen address for Start. Default ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithRunLimit caps the run tracker backing /api/runs.
func WithRunLimit(n int) Option {
	return func(s *Server) { s.runLimit = n }
}

// Server is the HTTP adapter. Construct with NewServer, then either mount
// Handler on an existing mux or call Start for a managed listener with
// graceful shutdown.
type Server struct {
	rt      Runtime
	log     *slog.Logger
	addr    string
	tracker *observability.Tracker
	hub     *hub
	router  chi.Router

	apiVersion  string
	runLimit    int
	unsubscribe func()
}

// NewServer wires the adapter to the runtime: it validates the embedded
// OpenAPI document, attaches a run tracker and the websocket hub to the
// runtime's bus, and builds the route table.
func NewServer(rt Runtime, opts ...Option) (*Server, error) {
	s := &Server{
		rt:   rt,
		log:  logging.NewNop(),
		addr: ":8080",
	}
	for _, opt := range opts {
		opt(s)
	}

	// The document is part of the binary; failing fast here turns a bad
	// edit into a startup error instead of a broken /openapi.yaml.
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	if doc.Info != nil {
		s.apiVersion = doc.Info.Version
	}

	trackerOpts := []observability.Option{}
	if s.runLimit > 0 {
		trackerOpts = append(trackerOpts, observability.WithRunLimit(s.runLimit))
	}
	s.tracker = observability.NewTracker(rt.Bus(), trackerOpts...)

	s.hub = newHub(s.log.With("component", "stream"))
	s.unsubscribe = rt.Bus().Subscribe(domain.EventFilter{}, s.hub.broadcast)

	s.router = s.routes()
	return s, nil
}

// Handler returns the full route table, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Close detaches the server from the bus. Start calls it on shutdown.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.tracker.Close()
}

// Start serves until ctx is cancelled, then shuts down gracefully with a
// five second drain window.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		if active := s.tracker.Active(); len(active) > 0 {
			s.log.Info("shutting down with runs in flight", "active_runs", len(active))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown incomplete: %w", err)
		}
		s.log.Info("http server stopped")
		return nil
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/openapi.yaml", s.handleOpenAPI)
	r.Get("/swagger", s.handleSwaggerUI)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/plugins", s.handlePlugins)
		r.Post("/plans/execute", s.handleExecute)
		r.Get("/events", s.handleEvents)
		r.Get("/events/stream", s.handleStream)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{runID}", s.handleRun)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"version":    strings.TrimSpace(arbor.Version),
		"apiVersion": s.apiVersion,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml")
	w.Write(openAPISpec)
}

func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(swaggerHTML))
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Arbor API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.rt.Plugins())
}

type executeRequest struct {
	Plan    *domain.Plan      `json:"plan"`
	Context domain.RunContext `json:"context"`
	// Detach returns immediately with the run id while the plan keeps
	// executing; progress arrives over the event stream.
	Detach bool `json:"detach,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Plan == nil {
		respondError(w, http.StatusBadRequest, "request carries no plan")
		return
	}
	if err := planfile.Validate(req.Plan); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc := req.Context
	if rc.RunID == "" {
		rc.RunID = arbor.NewRunID()
	}

	if req.Detach {
		// The run outlives the request on purpose; it is driven by the
		// runtime, not the HTTP connection.
		go s.rt.Execute(context.WithoutCancel(r.Context()), req.Plan, rc)
		s.log.Info("plan accepted for background execution", "plan_id", req.Plan.ID, "run_id", rc.RunID)
		respondJSON(w, http.StatusAccepted, map[string]string{"runId": rc.RunID})
		return
	}

	result := s.rt.Execute(r.Context(), req.Plan, rc)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.rt.Store().List(r.Context(), opts)
	if err != nil {
		s.log.Error("event query failed", "err", err)
		respondError(w, http.StatusInternalServerError, "event query failed")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, filterFromQuery(r))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.tracker.Runs())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	snap, ok := s.tracker.Run(runID)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("unknown run %q", runID))
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// listOptionsFromQuery maps the /api/events query parameters onto store
// list options.
func listOptionsFromQuery(r *http.Request) (ports.ListOptions, error) {
	q := r.URL.Query()
	opts := ports.ListOptions{Filter: filterFromQuery(r)}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("invalid since timestamp %q", v)
		}
		opts.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("invalid until timestamp %q", v)
		}
		opts.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = n
	}
	return opts, nil
}

func filterFromQuery(r *http.Request) domain.EventFilter {
	q := r.URL.Query()
	filter := domain.EventFilter{
		AggregateID: q.Get("aggregateId"),
		Source:      q.Get("source"),
	}
	if raw := q.Get("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Types = append(filter.Types, domain.EventType(part))
			}
		}
	}
	return filter
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
