// Package mcp exposes the arbor runtime as a Model Context Protocol
// server, so agent hosts can execute plans and inspect the runtime as
// tools. Both stdio and SSE transports are supported.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/calyptra/arbor"
	"github.com/calyptra/arbor/internal/logging"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/planfile"
	"github.com/calyptra/arbor/pkg/registry"
)

// RunPlanResponse is the structured result of the run_plan tool.
type RunPlanResponse struct {
	Result   *domain.PlanResult `json:"result,omitempty" jsonschema_description:"The settled plan result"`
	RunID    string             `json:"runId" jsonschema_description:"Run identifier, for correlating events"`
	Detached bool               `json:"detached,omitempty" jsonschema_description:"True when the run continues in the background"`
}

// RecentEventsResponse is the structured result of the recent_events tool.
type RecentEventsResponse struct {
	Events []domain.Event `json:"events" jsonschema_description:"Most recent lifecycle events, oldest first"`
}

// Runtime is the slice of the arbor runtime the MCP server drives.
// *arbor.Runtime satisfies it.
type Runtime interface {
	Execute(ctx context.Context, plan *domain.Plan, rc domain.RunContext) domain.PlanResult
	Plugins() []registry.Info
	History(limit int) []domain.Event
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

// Server wraps the arbor runtime and exposes it as an MCP server.
type Server struct {
	rt        Runtime
	log       *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server over the runtime and registers its
// tools and resources.
func NewServer(rt Runtime, opts ...Option) *Server {
	s := &Server{
		rt:        rt,
		log:       logging.NewNop(),
		mcpServer: server.NewMCPServer("arbor-mcp", strings.TrimSpace(arbor.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("mcp server listening (sse)", "addr", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: run_plan
	runTool := mcp.NewTool("run_plan",
		mcp.WithDescription("Execute a plan document and return the settled result. Every outcome is data; inspect result.status."),
		mcp.WithString("plan", mcp.Required(), mcp.Description("The plan document, YAML or JSON")),
		mcp.WithString("context", mcp.Description("JSON object merged into the run context (environment, user, values, ...)")),
		mcp.WithBoolean("detach", mcp.Description("Return immediately with the run id while the plan keeps executing")),
		mcp.WithOutputSchema[RunPlanResponse](),
	)
	s.mcpServer.AddTool(runTool, mcp.NewStructuredToolHandler(s.handleRunPlan))

	// TOOL: recent_events
	eventsTool := mcp.NewTool("recent_events",
		mcp.WithDescription("Return the most recent lifecycle events from the runtime's in-memory history."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events to return (default 20)")),
		mcp.WithString("type", mcp.Description("Comma-separated event types to keep, e.g. plan.failed,task.failed")),
		mcp.WithOutputSchema[RecentEventsResponse](),
	)
	s.mcpServer.AddTool(eventsTool, mcp.NewStructuredToolHandler(s.handleRecentEvents))

	// TOOL: list_plugins
	s.mcpServer.AddTool(mcp.NewTool("list_plugins",
		mcp.WithDescription("List the installed plugins and the step kinds they handle."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, _ := json.Marshal(s.rt.Plugins())
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

// Handler methods for structured tools

func (s *Server) handleRunPlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunPlanResponse, error) {
	planStr, _ := args["plan"].(string)
	if strings.TrimSpace(planStr) == "" {
		return RunPlanResponse{}, fmt.Errorf("plan must not be empty")
	}

	ext := ".yaml"
	if strings.HasPrefix(strings.TrimSpace(planStr), "{") {
		ext = ".json"
	}
	plan, err := planfile.Parse([]byte(planStr), ext)
	if err != nil {
		return RunPlanResponse{}, fmt.Errorf("plan rejected: %w", err)
	}

	var rc domain.RunContext
	if ctxStr, ok := args["context"].(string); ok && ctxStr != "" {
		if err := json.Unmarshal([]byte(ctxStr), &rc); err != nil {
			return RunPlanResponse{}, fmt.Errorf("context rejected: %w", err)
		}
	}
	if rc.RunID == "" {
		rc.RunID = arbor.NewRunID()
	}

	if detach, _ := args["detach"].(bool); detach {
		go s.rt.Execute(context.WithoutCancel(ctx), plan, rc)
		s.log.Info("plan accepted for background execution", "plan_id", plan.ID, "run_id", rc.RunID)
		return RunPlanResponse{RunID: rc.RunID, Detached: true}, nil
	}

	result := s.rt.Execute(ctx, plan, rc)
	return RunPlanResponse{Result: &result, RunID: result.RunID}, nil
}

func (s *Server) handleRecentEvents(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RecentEventsResponse, error) {
	limit := 20
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	var filter domain.EventFilter
	if raw, ok := args["type"].(string); ok && raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Types = append(filter.Types, domain.EventType(part))
			}
		}
	}

	// Filter before trimming so the limit counts matching events.
	all := s.rt.History(0)
	matched := make([]domain.Event, 0, len(all))
	for _, evt := range all {
		if filter.Match(evt) {
			matched = append(matched, evt)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return RecentEventsResponse{Events: matched}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: arbor://plugins
	s.mcpServer.AddResource(mcp.NewResource("arbor://plugins", "Installed Plugin Catalog",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.rt.Plugins())
		if err != nil {
			return nil, fmt.Errorf("failed to encode plugin catalog: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "arbor://plugins",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
