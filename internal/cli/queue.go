package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/calyptra/arbor"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/planfile"
	"github.com/calyptra/arbor/pkg/queue"
)

// QueueOptions carries the queue command family's flag surface.
type QueueOptions struct {
	RunOptions
	QueuePath   string
	Poll        time.Duration
	Drain       bool
	MaxAttempts int
}

func newQueue(opts QueueOptions) *queue.Queue {
	var qOpts []queue.Option
	if opts.MaxAttempts > 0 {
		qOpts = append(qOpts, queue.WithMaxAttempts(opts.MaxAttempts))
	}
	return queue.New(opts.QueuePath, qOpts...)
}

// EnqueuePlan validates a plan file and appends it to the queue.
func EnqueuePlan(opts QueueOptions, planPath string) error {
	plan, err := planfile.Load(planPath)
	if err != nil {
		return fmt.Errorf("error loading plan: %w", err)
	}
	if err := planfile.Validate(plan); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	id, err := newQueue(opts).Enqueue(context.Background(), plan)
	if err != nil {
		return err
	}
	printSystemMessage("Enqueued '%s' as %s.", plan.Title, id)
	return nil
}

// QueueStatus prints occupancy and, when asked, the dead items.
func QueueStatus(opts QueueOptions, showDead bool) error {
	q := newQueue(opts)
	ctx := context.Background()

	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pending: %d\nleased:  %d\ndead:    %d\n", stats.Pending, stats.Leased, stats.Dead)

	if !showDead || stats.Dead == 0 {
		return nil
	}
	dead, err := q.Dead(ctx)
	if err != nil {
		return err
	}
	fmt.Println()
	for _, item := range dead {
		title := ""
		if item.Plan != nil {
			title = item.Plan.Title
		}
		fmt.Printf("%s  attempts=%d  %q  %s\n", item.ID, item.Attempts, title, item.LastError)
	}
	return nil
}

// RunWorker drains the queue: each leased plan is executed and settled by
// its result. Success acks; failure nacks with the failure text, so the
// attempt cap decides between retry and the dead list.
func RunWorker(opts QueueOptions) error {
	logger := createLogger(opts.Debug)
	quiet := opts.JSON || opts.Quiet

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	rt, cleanup, err := createRuntime(sigCtx, opts.RunOptions, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	printer := newEventPrinter(os.Stdout, opts.JSON)
	unsubscribe := rt.Subscribe(domain.EventFilter{}, printer.Handler())
	defer unsubscribe()

	q := newQueue(opts)
	if !quiet {
		printSystemMessage("Worker polling '%s' every %s.", opts.QueuePath, opts.Poll)
	}

	for {
		item, err := q.Dequeue(sigCtx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				if opts.Drain {
					if !quiet {
						printSystemMessage("Queue drained.")
					}
					return nil
				}
				select {
				case <-sigCtx.Done():
					return nil
				case <-time.After(opts.Poll):
					continue
				}
			}
			if sigCtx.Err() != nil {
				// The lock acquisition saw the signal, not a real failure.
				return nil
			}
			return err
		}

		logger.Info("item leased", "item", item.ID, "attempt", item.Attempts)
		result := rt.Execute(sigCtx, item.Plan, domain.RunContext{RunID: arbor.NewRunID()})

		switch result.Status {
		case domain.PlanSucceeded:
			if err := q.Ack(context.WithoutCancel(sigCtx), item.ID); err != nil {
				return err
			}
		case domain.PlanCancelled:
			// Interrupted mid-run: requeue so another worker can finish it.
			_ = q.Nack(context.WithoutCancel(sigCtx), item.ID, "worker interrupted")
			return nil
		default:
			reason := "plan failed"
			if result.Error != nil {
				reason = result.Error.Message
			}
			if err := q.Nack(context.WithoutCancel(sigCtx), item.ID, reason); err != nil {
				return err
			}
		}

		if !quiet {
			printSystemMessage("Item %s settled: %s (run %s).", item.ID, result.Status, result.RunID)
		}
		if sigCtx.Err() != nil {
			return nil
		}
	}
}
