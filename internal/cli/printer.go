package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
)

// eventPrinter renders the event feed to a writer, one line per event.
// Tasks within a batch emit concurrently, so writes are serialized here.
type eventPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool

	enc *json.Encoder

	started   *color.Color
	succeeded *color.Color
	failed    *color.Color
	cancelled *color.Color
	dim       *color.Color
}

// newEventPrinter builds a printer for the feed. In JSON mode every event
// is one NDJSON document, machine-shaped, never colored. In text mode
// color rides on fatih/color and is forced off when the writer is not a
// terminal, so piped output stays clean.
func newEventPrinter(out io.Writer, jsonMode bool) *eventPrinter {
	p := &eventPrinter{
		out:       out,
		json:      jsonMode,
		enc:       json.NewEncoder(out),
		started:   color.New(color.FgCyan),
		succeeded: color.New(color.FgGreen),
		failed:    color.New(color.FgRed),
		cancelled: color.New(color.FgYellow),
		dim:       color.New(color.Faint),
	}
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if !isTTY {
		for _, c := range []*color.Color{p.started, p.succeeded, p.failed, p.cancelled, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

// Handler adapts the printer to a bus subscription.
func (p *eventPrinter) Handler() eventbus.Handler {
	return func(e domain.Event) { p.Print(e) }
}

// Print renders one event.
func (p *eventPrinter) Print(e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		_ = p.enc.Encode(e)
		return
	}

	ts := p.dim.Sprint(e.OccurredAt.Local().Format("15:04:05"))
	typ := p.colorFor(e.Type).Sprintf("%-16s", string(e.Type))
	line := fmt.Sprintf("%s  %s %s", ts, typ, e.AggregateID)
	if detail := eventDetail(e); detail != "" {
		line += "  " + p.dim.Sprint(detail)
	}
	fmt.Fprintln(p.out, line)
}

func (p *eventPrinter) colorFor(t domain.EventType) *color.Color {
	switch t {
	case domain.EventPlanStarted, domain.EventTaskStarted:
		return p.started
	case domain.EventPlanSucceeded, domain.EventTaskSucceeded, domain.EventStepSucceeded:
		return p.succeeded
	case domain.EventPlanFailed, domain.EventTaskFailed, domain.EventStepFailed:
		return p.failed
	case domain.EventPlanCancelled, domain.EventTaskCancelled:
		return p.cancelled
	default:
		return p.dim
	}
}

// eventDetail picks the payload fields worth a terminal line: the step
// kind, the plan title, and the failure text.
func eventDetail(e domain.Event) string {
	if e.Payload == nil {
		return ""
	}
	var parts []string
	if title, ok := e.Payload["title"].(string); ok && title != "" {
		parts = append(parts, title)
	}
	if kind, ok := e.Payload["kind"].(string); ok && kind != "" {
		parts = append(parts, "kind="+kind)
	}
	if code, ok := e.Payload["code"].(string); ok && code != "" {
		parts = append(parts, code)
	}
	if errText, ok := e.Payload["error"].(string); ok && errText != "" {
		parts = append(parts, errText)
	}
	return strings.Join(parts, " ")
}
