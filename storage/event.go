package storage

// EventKind identifies what happened to the cache.
type EventKind string

const (
	// EventRejected is emitted when the size guard refuses a write.
	EventRejected EventKind = "rejected"
	// EventEvicted is emitted after a whole-namespace eviction.
	EventEvicted EventKind = "evicted"
	// EventSwept is emitted for each entry the sweeper removes to meet the total budget.
	EventSwept EventKind = "swept"
	// EventStoreError is emitted when the underlying store fails an operation.
	EventStoreError EventKind = "store_error"
)

// Event describes an observable cache occurrence. Fields that do not apply
// to a kind are left zero.
type Event struct {
	Kind      EventKind
	Namespace string

	// Key is the logical key, empty for namespace-wide events.
	Key string

	// Op is the store operation that failed (EventStoreError).
	Op string

	// Reason is the guard reason (EventRejected) or the eviction trigger
	// (EventEvicted, EventSwept).
	Reason string

	// Size is the rejected value size or the bytes freed by a sweep.
	Size int64

	// Count is the number of keys removed (EventEvicted).
	Count int

	Err error
}

// EventHook receives cache events. It is called synchronously on the
// goroutine performing the operation and must not block.
type EventHook func(Event)
