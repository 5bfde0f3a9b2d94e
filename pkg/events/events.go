// Package events defines the closed set of events exchanged by the sync engine
// and the bus that orders and delivers them.
package events

import (
	"github.com/google/uuid"

	"github.com/stacklok/statesync/pkg/statetree"
)

// Kind identifies the type of an event.
type Kind string

// Event kinds
const (
	KindRehydrate             Kind = "statesync/REHYDRATE"
	KindRehydrateCompleted    Kind = "statesync/REHYDRATE_COMPLETED"
	KindPersist               Kind = "statesync/PERSIST"
	KindFlush                 Kind = "statesync/FLUSH"
	KindFlushSucceeded        Kind = "statesync/FLUSH_SUCCESS"
	KindPurge                 Kind = "statesync/PURGE"
	KindResetState            Kind = "statesync/RESET_STATE"
	KindRemoteFetchRequest    Kind = "statesync/REMOTE_STORAGE_FETCH_REQUEST"
	KindRemoteFetchSucceeded  Kind = "statesync/REMOTE_STORAGE_FETCH_SUCCESS"
	KindRemoteFetchFailed     Kind = "statesync/REMOTE_STORAGE_FETCH_FAILURE"
	KindRemoteUpdateSucceeded Kind = "statesync/REMOTE_STORAGE_UPDATE_SUCCESS"
	KindRemoteUpdateFailed    Kind = "statesync/REMOTE_STORAGE_UPDATE_FAILURE"
	KindLocalFetchRequest     Kind = "statesync/LOCAL_STORAGE_FETCH_REQUEST"
	KindLocalFetchSucceeded   Kind = "statesync/LOCAL_STORAGE_FETCH_SUCCESS"
	KindLocalFetchFailed      Kind = "statesync/LOCAL_STORAGE_FETCH_FAILURE"
	KindLocalUpdateRequest    Kind = "statesync/LOCAL_STORAGE_UPDATE_REQUEST"
	KindLocalUpdateSucceeded  Kind = "statesync/LOCAL_STORAGE_UPDATE_SUCCESS"
	KindLocalUpdateFailed     Kind = "statesync/LOCAL_STORAGE_UPDATE_FAILURE"
	KindLocalPurgeSucceeded   Kind = "statesync/LOCAL_STORAGE_PURGE_SUCCESS"
	KindLocalPurgeFailed      Kind = "statesync/LOCAL_STORAGE_PURGE_FAILURE"
	KindSliceRehydrated       Kind = "statesync/REHYDRATE_REDUCER"
	KindUpdateQueued          Kind = "statesync/STATE_UPDATE_QUEUED"
	KindUpdateRequested       Kind = "statesync/STATE_UPDATE_REQUEST"
	KindUpdateSucceeded       Kind = "statesync/STATE_UPDATE_SUCCESS"
)

// Source names the remote operation an error originated from.
type Source string

// Error sources
const (
	SourceRemoteFetch  Source = "remote_fetch"
	SourceRemoteUpdate Source = "remote_update"
)

// Event is a message on the bus. The set of implementations is closed: every
// event type is declared in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// Rehydrate asks the engine to pull state from the local cache and the remote
// store back into memory. Done, when set, is called exactly once after every
// slice has been rehydrated. A Manual rehydrate does not start persistence.
type Rehydrate struct {
	Manual bool
	Done   func()
}

// RehydrateCompleted is published once all slices of a rehydrate were applied.
type RehydrateCompleted struct{}

// Persist starts the persistence pipeline with InitialState as the confirmed baseline.
type Persist struct {
	InitialState statetree.Collection
}

// Flush asks for pending updates to be committed immediately.
type Flush struct{}

// FlushSucceeded reports that no update is queued or pending after a Flush.
type FlushSucceeded struct{}

// Purge stops persistence and removes the local cache entry.
type Purge struct{}

// ResetState resets every registered slice to its default value.
type ResetState struct{}

// RemoteFetchRequest asks the remote adapter to read the remote envelope.
type RemoteFetchRequest struct{}

// RemoteFetchSucceeded carries the envelope read from the remote store.
type RemoteFetchSucceeded struct {
	Payload statetree.Envelope
}

// RemoteFetchFailed reports a failed remote read.
type RemoteFetchFailed struct {
	Err error
}

// RemoteUpdateSucceeded carries the remote response to a diff update.
type RemoteUpdateSucceeded struct {
	Response any
	Diff     statetree.Envelope
}

// RemoteUpdateFailed reports a failed remote update.
type RemoteUpdateFailed struct {
	Err error
}

// LocalFetchRequest asks the local adapter to read the cached envelope.
type LocalFetchRequest struct{}

// LocalFetchSucceeded carries the cached envelope. A missing entry is an empty envelope.
type LocalFetchSucceeded struct {
	Payload statetree.Envelope
}

// LocalFetchFailed reports a failed cache read.
type LocalFetchFailed struct {
	Err error
}

// LocalUpdateRequest asks the local adapter to store Payload. ID correlates the
// request with its outcome.
type LocalUpdateRequest struct {
	ID      uuid.UUID
	Payload statetree.Envelope
}

// LocalUpdateSucceeded reports that the request with ID was written.
type LocalUpdateSucceeded struct {
	ID uuid.UUID
}

// LocalUpdateFailed reports that the request with ID could not be written.
type LocalUpdateFailed struct {
	ID  uuid.UUID
	Err error
}

// LocalPurgeSucceeded reports that the cache entry was removed.
type LocalPurgeSucceeded struct{}

// LocalPurgeFailed reports that the cache entry could not be removed.
type LocalPurgeFailed struct {
	Err error
}

// SliceRehydrated carries the merged value of one slice after a rehydrate.
type SliceRehydrated struct {
	Key     string
	Payload statetree.Slice
}

// UpdateQueued reports that a changed state was admitted and is waiting for the debounce.
type UpdateQueued struct{}

// UpdateRequested reports that a queued state is about to be committed.
type UpdateRequested struct{}

// UpdateSucceeded reports that a commit finished, whatever the remote outcome.
type UpdateSucceeded struct{}

func (Rehydrate) Kind() Kind             { return KindRehydrate }
func (RehydrateCompleted) Kind() Kind    { return KindRehydrateCompleted }
func (Persist) Kind() Kind               { return KindPersist }
func (Flush) Kind() Kind                 { return KindFlush }
func (FlushSucceeded) Kind() Kind        { return KindFlushSucceeded }
func (Purge) Kind() Kind                 { return KindPurge }
func (ResetState) Kind() Kind            { return KindResetState }
func (RemoteFetchRequest) Kind() Kind    { return KindRemoteFetchRequest }
func (RemoteFetchSucceeded) Kind() Kind  { return KindRemoteFetchSucceeded }
func (RemoteFetchFailed) Kind() Kind     { return KindRemoteFetchFailed }
func (RemoteUpdateSucceeded) Kind() Kind { return KindRemoteUpdateSucceeded }
func (RemoteUpdateFailed) Kind() Kind    { return KindRemoteUpdateFailed }
func (LocalFetchRequest) Kind() Kind     { return KindLocalFetchRequest }
func (LocalFetchSucceeded) Kind() Kind   { return KindLocalFetchSucceeded }
func (LocalFetchFailed) Kind() Kind      { return KindLocalFetchFailed }
func (LocalUpdateRequest) Kind() Kind    { return KindLocalUpdateRequest }
func (LocalUpdateSucceeded) Kind() Kind  { return KindLocalUpdateSucceeded }
func (LocalUpdateFailed) Kind() Kind     { return KindLocalUpdateFailed }
func (LocalPurgeSucceeded) Kind() Kind   { return KindLocalPurgeSucceeded }
func (LocalPurgeFailed) Kind() Kind      { return KindLocalPurgeFailed }
func (SliceRehydrated) Kind() Kind       { return KindSliceRehydrated }
func (UpdateQueued) Kind() Kind          { return KindUpdateQueued }
func (UpdateRequested) Kind() Kind       { return KindUpdateRequested }
func (UpdateSucceeded) Kind() Kind       { return KindUpdateSucceeded }

func (Rehydrate) sealed()             {}
func (RehydrateCompleted) sealed()    {}
func (Persist) sealed()               {}
func (Flush) sealed()                 {}
func (FlushSucceeded) sealed()        {}
func (Purge) sealed()                 {}
func (ResetState) sealed()            {}
func (RemoteFetchRequest) sealed()    {}
func (RemoteFetchSucceeded) sealed()  {}
func (RemoteFetchFailed) sealed()     {}
func (RemoteUpdateSucceeded) sealed() {}
func (RemoteUpdateFailed) sealed()    {}
func (LocalFetchRequest) sealed()     {}
func (LocalFetchSucceeded) sealed()   {}
func (LocalFetchFailed) sealed()      {}
func (LocalUpdateRequest) sealed()    {}
func (LocalUpdateSucceeded) sealed()  {}
func (LocalUpdateFailed) sealed()     {}
func (LocalPurgeSucceeded) sealed()   {}
func (LocalPurgeFailed) sealed()      {}
func (SliceRehydrated) sealed()       {}
func (UpdateQueued) sealed()          {}
func (UpdateRequested) sealed()       {}
func (UpdateSucceeded) sealed()       {}

// Err returns the error carried by a failure event, or nil for any other event.
func Err(e Event) error {
	switch ev := e.(type) {
	case RemoteFetchFailed:
		return ev.Err
	case RemoteUpdateFailed:
		return ev.Err
	case LocalFetchFailed:
		return ev.Err
	case LocalUpdateFailed:
		return ev.Err
	case LocalPurgeFailed:
		return ev.Err
	default:
		return nil
	}
}
