package middleware

import (
	"context"
	"regexp"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

type piiMiddleware struct {
	next     ports.EventStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the values of payload
// and metadata keys matching the patterns before an event is persisted.
// Live subscribers still see the original values; queries and replays see
// the masked copies.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.EventStore) ports.EventStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Append(ctx context.Context, evt domain.Event) error {
	// Deep clone to avoid side effects on the copy the bus handed to
	// live subscribers.
	masked := evt
	masked.Payload = deepCopyMap(evt.Payload)
	masked.Metadata = deepCopyMap(evt.Metadata)

	maskMap(masked.Payload, m.patterns)
	maskMap(masked.Metadata, m.patterns)

	return m.next.Append(ctx, masked)
}

func (m *piiMiddleware) List(ctx context.Context, opts ports.ListOptions) ([]domain.Event, error) {
	return m.next.List(ctx, opts)
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		// Handle nested maps
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v // shallow copy of value
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		// Check key against patterns
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = "***"
				break
			}
		}

		// Recurse if map
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
