package store

import (
	"context"
	"errors"
	"time"
)

// heartbeatTTL is the liveness lease for disconnect cleanup owners. An owner
// whose lease lapses without a Disconnect call is swept by the reaper.
const heartbeatTTL = 90 * time.Second

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned by Read when no value exists at the path.
	ErrNotFound = errors.New("store: path not found")
	// ErrAborted is returned by AtomicUpdate when the transaction fn
	// declined to write. It is a normal outcome, not a failure.
	ErrAborted = errors.New("store: transaction aborted")
	// ErrUnavailable wraps transient I/O failures talking to the backing
	// store. It is the only error class the gateway retries.
	ErrUnavailable = errors.New("store: unavailable")
)

// TxnFn is the compare-and-set callback for AtomicUpdate. It receives the
// current value at the path (nil when absent) and returns the replacement
// value. Returning ok=false aborts the update without writing.
//
// The store may invoke fn more than once: whenever a concurrent writer wins
// the race, fn is re-run against the fresh value until one writer succeeds
// or fn aborts.
type TxnFn func(current []byte) (next []byte, ok bool)

// Event is one change notification from Subscribe. Value is nil when the
// path was deleted.
type Event struct {
	Path  string
	Value []byte
}

// Store is the replicated real-time key/value store the room core runs
// against. Paths are slash-separated, schemaless JSON documents. Scalar
// paths (Write/Read) and collection paths (Push/List) are distinct
// namespaces, mirroring how the room state is laid out.
type Store interface {
	// Read returns the JSON value at path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write replaces the value at path and notifies subscribers.
	Write(ctx context.Context, path string, value []byte) error

	// Delete removes the value or collection at path.
	Delete(ctx context.Context, path string) error

	// Push appends value under a fresh chronologically-ordered key inside
	// the collection at path and returns that key.
	Push(ctx context.Context, path string, value []byte) (string, error)

	// List returns every child of the collection at path, keyed by push key.
	// A missing collection yields an empty map, not an error.
	List(ctx context.Context, path string) (map[string][]byte, error)

	// AtomicUpdate runs fn as an indivisible read-check-write cycle against
	// the value at path. It returns the committed value, ErrAborted when fn
	// declined, or ErrUnavailable when the bounded retry budget is spent.
	AtomicUpdate(ctx context.Context, path string, fn TxnFn) ([]byte, error)

	// Subscribe streams change events for path until ctx is done.
	Subscribe(ctx context.Context, path string) (<-chan Event, error)

	// RegisterOnDisconnect installs a cleanup rule: when ownerID's liveness
	// channel drops, the value at path is deleted without any client action.
	// Registration also opens the owner's liveness lease.
	RegisterOnDisconnect(ctx context.Context, ownerID, path string) error

	// Heartbeat refreshes ownerID's liveness lease. Cleanup rules of an
	// owner whose lease lapses are fired by the reaper even when no process
	// survives to call Disconnect.
	Heartbeat(ctx context.Context, ownerID string) error

	// Disconnect fires every cleanup rule registered for ownerID. The
	// gateway calls it when a session's connection is lost or closed.
	Disconnect(ctx context.Context, ownerID string) error
}
