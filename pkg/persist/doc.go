// Package persist implements the synchronization engine that keeps in-memory
// state, a local cache and a remote store in step.
//
// The engine is a set of coordinators that talk to each other only through an
// events.Bus:
//
//   - the local adapter serializes fetch, update and purge requests against one
//     key of a storage.Backend
//   - the remote adapter reads the remote store, ignoring fetch requests while
//     one is in flight
//   - the rehydrate coordinator joins one remote and one local fetch, merges
//     them with the current memory state and starts persistence
//   - the persistence pipeline debounces state changes, writes them to the
//     local cache and sends the diff against the last confirmed remote state
//   - the flush coordinator reports when every change made before the flush
//     is committed and nothing is queued or pending
//
// Persistence stops on Purge and on a new Rehydrate. Remote I/O that is already
// running when that happens completes, but its outcome is not published.
package persist
