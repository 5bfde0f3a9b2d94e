// Package memstore holds the live application state as a set of named slices.
//
// The state is copy-on-write: every change publishes a new State value, so a
// State obtained from Current may be read without locking. The store applies
// rehydrated slices and resets when registered as a bus reducer.
package memstore

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/statetree"
)

// State is an immutable snapshot of all slices, keyed by slice key
type State map[string]statetree.Slice

// Store is the in-memory state tree
type Store struct {
	// serializes writers; readers use latest
	mu       sync.Mutex
	defaults State
	latest   *events.Latest[State]
}

// New creates a store with one slice per key of defaults, each starting at its default value
func New(defaults map[string]statetree.Slice) *Store {
	d := make(State, len(defaults))
	for key, slice := range defaults {
		if slice == nil {
			slice = statetree.Slice{}
		}
		d[key] = slice.Clone()
	}
	return &Store{
		defaults: d,
		latest:   events.NewLatest(cloneState(d)),
	}
}

// Current returns the current state, its version and a channel closed on its next change
func (s *Store) Current() (any, uint64, <-chan struct{}) {
	return s.latest.Versioned()
}

// Snapshot returns the current state
func (s *Store) Snapshot() State {
	state, _ := s.latest.Get()
	return state
}

// Keys returns the registered slice keys in sorted order
func (s *Store) Keys() []string {
	return slices.Sorted(maps.Keys(s.defaults))
}

// Get returns a copy of one slice
func (s *Store) Get(key string) (statetree.Slice, bool) {
	slice, ok := s.Snapshot()[key]
	if !ok {
		return nil, false
	}
	return slice.Clone(), true
}

// Set replaces a slice
func (s *Store) Set(key string, value statetree.Slice) error {
	return s.update(key, func(statetree.Slice) statetree.Slice {
		if value == nil {
			return statetree.Slice{}
		}
		return value.Clone()
	})
}

// Patch sets the given fields of a slice, leaving other fields untouched.
// A nil field value deletes the field.
func (s *Store) Patch(key string, fields statetree.Slice) error {
	return s.update(key, func(current statetree.Slice) statetree.Slice {
		next := current.Clone()
		if next == nil {
			next = statetree.Slice{}
		}
		for field, value := range fields {
			if value == nil {
				delete(next, field)
				continue
			}
			next[field] = value
		}
		return next.Clone()
	})
}

// Reset restores every slice to its default value
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest.Set(cloneState(s.defaults))
}

// Reduce implements events.Reducer. A rehydrated slice replaces the slice with
// the same key; keys that were never registered are ignored.
func (s *Store) Reduce(e events.Event) {
	switch ev := e.(type) {
	case events.SliceRehydrated:
		if _, ok := s.defaults[ev.Key]; !ok {
			return
		}
		_ = s.Set(ev.Key, ev.Payload)
	case events.ResetState:
		s.Reset()
	}
}

func (s *Store) update(key string, fn func(statetree.Slice) statetree.Slice) error {
	if _, ok := s.defaults[key]; !ok {
		return fmt.Errorf("unknown slice %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.latest.Get()
	next := make(State, len(current))
	maps.Copy(next, current)
	next[key] = fn(current[key])
	s.latest.Set(next)
	return nil
}

// Select returns a selector reading the slice key from a State
func Select(key string) func(state any) statetree.Slice {
	return func(state any) statetree.Slice {
		st, ok := state.(State)
		if !ok {
			return nil
		}
		return st[key]
	}
}

func cloneState(s State) State {
	out := make(State, len(s))
	for key, slice := range s {
		out[key] = slice.Clone()
	}
	return out
}
