// Package status tracks the health of the persistence pipeline.
package status

// Status represents the current state of the persistence pipeline
type Status struct {
	// IsUpdateQueued is true while an admitted state change waits for its debounce
	IsUpdateQueued bool `json:"isUpdateQueued" yaml:"isUpdateQueued"`

	// IsFlushing is true between a flush request and its completion
	IsFlushing bool `json:"isFlushing" yaml:"isFlushing"`

	// PendingUpdateCount is the number of requested commits that have not finished yet
	PendingUpdateCount int `json:"pendingUpdateCount" yaml:"pendingUpdateCount"`
}

// Initial returns the status at process start.
func Initial() Status {
	return Status{}
}

// IsSettled reports whether nothing is queued and no commit is pending.
func (s Status) IsSettled() bool {
	return !s.IsUpdateQueued && s.PendingUpdateCount == 0
}
