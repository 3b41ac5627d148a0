package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/calyptra/arbor"
	"github.com/calyptra/arbor/internal/presentation/tui"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/planfile"
)

// RunPlan executes one plan file end to end: load, validate, run, report.
// The event feed streams to stdout while the plan runs; a markdown summary
// follows unless the feed is machine-shaped.
func RunPlan(opts RunOptions) error {
	logger := createLogger(opts.Debug)
	quiet := opts.JSON || opts.Quiet

	if !quiet {
		tui.PrintBanner(arbor.Version)
	}

	plan, err := planfile.Load(opts.PlanPath)
	if err != nil {
		return fmt.Errorf("error loading plan: %w", err)
	}
	if err := planfile.Validate(plan); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	rc := domain.RunContext{RunID: arbor.NewRunID()}
	if opts.Context != "" {
		if err := json.Unmarshal([]byte(opts.Context), &rc.Values); err != nil {
			return fmt.Errorf("error parsing --context JSON: %w", err)
		}
	}

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	rt, cleanup, err := createRuntime(sigCtx, opts, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	printer := newEventPrinter(os.Stdout, opts.JSON)
	unsubscribe := rt.Subscribe(domain.EventFilter{}, printer.Handler())
	defer unsubscribe()

	if !quiet {
		printSystemMessage("Executing '%s' (run %s)...", plan.Title, rc.RunID)
	}

	result := rt.Execute(sigCtx, plan, rc)

	logCompletion(result, sigCtx.Signal(), quiet)
	if !quiet {
		fmt.Print(renderSummary(result))
	}

	return resultError(result, sigCtx.Signal())
}

// renderSummary builds the post-run report, one table row per task,
// rendered as terminal markdown.
func renderSummary(result domain.PlanResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Run %s\n\n", result.RunID)
	fmt.Fprintf(&b, "**Status**: %s  \n", result.Status)
	fmt.Fprintf(&b, "**Duration**: %s\n\n", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	if result.Error != nil {
		if result.Error.Code != "" {
			fmt.Fprintf(&b, "**Error**: `%s` %s\n\n", result.Error.Code, result.Error.Message)
		} else {
			fmt.Fprintf(&b, "**Error**: %s\n\n", result.Error.Message)
		}
	}
	if len(result.Tasks) > 0 {
		b.WriteString("| Task | Status | Steps | Duration |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, t := range result.Tasks {
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
				t.TaskID, t.Status, len(t.Steps), t.Duration.Round(time.Millisecond))
		}
	}

	render := tui.NewRenderer()
	out, err := render(b.String())
	if err != nil {
		return b.String()
	}
	return out
}
