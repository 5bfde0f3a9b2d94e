package status

import "github.com/stacklok/statesync/pkg/events"

// Reduce returns the status after applying e. Events that do not concern the
// pipeline status leave it unchanged.
func Reduce(s Status, e events.Event) Status {
	switch e.(type) {
	case events.Flush:
		s.IsFlushing = true
	case events.FlushSucceeded:
		s.IsFlushing = false
	case events.UpdateQueued:
		s.IsUpdateQueued = true
	case events.UpdateRequested:
		s.PendingUpdateCount++
		s.IsUpdateQueued = false
	case events.UpdateSucceeded:
		if s.PendingUpdateCount > 0 {
			s.PendingUpdateCount--
		}
	// persistence starts or stops
	case events.Purge, events.Persist, events.Rehydrate:
		return Initial()
	}
	return s
}
