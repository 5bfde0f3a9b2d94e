package status

import "github.com/stacklok/statesync/pkg/events"

// Tracker keeps the latest pipeline status. It is registered as a bus reducer,
// so its value is updated in publish order before any subscriber sees the event.
type Tracker struct {
	latest *events.Latest[Status]
}

// NewTracker creates a tracker holding the initial status.
func NewTracker() *Tracker {
	return &Tracker{latest: events.NewLatest(Initial())}
}

// Reduce implements events.Reducer.
func (t *Tracker) Reduce(e events.Event) {
	current, _ := t.latest.Get()
	next := Reduce(current, e)
	if next != current {
		t.latest.Set(next)
	}
}

// Get returns the current status and a channel closed on its next change.
func (t *Tracker) Get() (Status, <-chan struct{}) {
	return t.latest.Get()
}
