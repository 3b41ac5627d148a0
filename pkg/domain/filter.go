package domain

// EventFilter selects events by type, aggregate, and/or metadata source.
// The zero filter matches everything. It is shared by bus subscriptions
// and store list queries.
type EventFilter struct {
	Types       []EventType `json:"types,omitempty"`
	AggregateID string      `json:"aggregateId,omitempty"`
	Source      string      `json:"source,omitempty"`
}

// Match reports whether the event satisfies every set criterion.
func (f EventFilter) Match(e Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AggregateID != "" && e.AggregateID != f.AggregateID {
		return false
	}
	if f.Source != "" && e.Source() != f.Source {
		return false
	}
	return true
}
