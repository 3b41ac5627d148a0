package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/calyptra/arbor/internal/logging"
	"github.com/calyptra/arbor/pkg/domain"
)

// SignalContext wraps a context and captures the signal that cancelled it.
type SignalContext struct {
	context.Context
	Cancel func()
	start  sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	sigVal os.Signal
	mu     sync.Mutex
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// It acts as a drop-in replacement for signal.NotifyContext but allows
// retrieving the signal afterwards.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}

	sc.start.Do(func() {
		signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				sc.sigVal = sig
				sc.mu.Unlock()
				sc.Cancel()
			case <-sc.Context.Done():
				// Context cancelled elsewhere
			}
			sc.stop.Do(func() {
				signal.Stop(sc.sigCh)
			})
		}()
	})

	return sc
}

// Signal returns the signal that caused the context to be cancelled, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// createLogger configures the application logger.
// In debug mode, it writes to Stderr (to separate from the Stdout event feed).
func createLogger(debug bool) *slog.Logger {
	if debug {
		return logging.New(slog.LevelDebug)
	}
	return logging.NewNop()
}

// printSystemMessage prints a standardized system message to stdout.
func printSystemMessage(format string, args ...any) {
	fmt.Printf(">>> %s\n", fmt.Sprintf(format, args...))
}

// logCompletion prints the run epilogue. After a SIGINT the [CTRL+C] line
// restores the terminal so the message does not share a line with the
// half-typed prompt.
func logCompletion(result domain.PlanResult, sig os.Signal, quiet bool) {
	if quiet {
		return
	}
	switch result.Status {
	case domain.PlanSucceeded:
		printSystemMessage("Plan '%s' succeeded (run %s).", result.PlanID, result.RunID)
	case domain.PlanCancelled:
		if sig == os.Interrupt {
			fmt.Printf("[CTRL+C]\n")
			printSystemMessage("Plan '%s' interrupted.", result.PlanID)
		} else if sig != nil {
			fmt.Printf("\n")
			printSystemMessage("Plan '%s' terminated.", result.PlanID)
		} else {
			printSystemMessage("Plan '%s' cancelled.", result.PlanID)
		}
	case domain.PlanFailed:
		reason := ""
		if result.Error != nil {
			reason = ": " + result.Error.Message
		}
		printSystemMessage("Plan '%s' failed%s", result.PlanID, reason)
	}
}

// resultError maps a terminal PlanResult onto the command's exit status. A
// cancellation caused by a signal exits 0: the user asked for the stop.
func resultError(result domain.PlanResult, sig os.Signal) error {
	switch result.Status {
	case domain.PlanFailed:
		if result.Error != nil {
			if result.Error.Code != "" {
				return fmt.Errorf("plan failed (%s): %s", result.Error.Code, result.Error.Message)
			}
			return fmt.Errorf("plan failed: %s", result.Error.Message)
		}
		return fmt.Errorf("plan failed")
	case domain.PlanCancelled:
		if sig != nil {
			return nil
		}
		return context.Canceled
	default:
		return nil
	}
}
