package ports

import (
	"sort"

	"github.com/calyptra/arbor/pkg/domain"
)

// ApplyListOptions implements the canonical List semantics shared by every
// EventStore adapter: filter, sort ascending by OccurredAt, then keep the
// most recent Limit events (the tail). The input slice is not modified.
func ApplyListOptions(events []domain.Event, opts ListOptions) []domain.Event {
	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if !opts.Since.IsZero() && e.OccurredAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.OccurredAt.After(opts.Until) {
			continue
		}
		if !opts.Filter.Match(e) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out
}
