package backend

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/doto-cache/telemetry"
)

// InstrumentedStore wraps a Store with metrics recording.
type InstrumentedStore struct {
	store Store
	name  string
}

// NewInstrumentedStore creates a new instrumented store wrapper.
func NewInstrumentedStore(s Store, name string) *InstrumentedStore {
	return &InstrumentedStore{store: s, name: name}
}

func (is *InstrumentedStore) GetItem(ctx context.Context, key string) (string, error) {
	start := time.Now()
	v, err := is.store.GetItem(ctx, key)
	telemetry.RecordBackendOp(ctx, is.name, "get", outcomeFromError(err), time.Since(start), int64(len(v)))
	return v, err
}

func (is *InstrumentedStore) SetItem(ctx context.Context, key, value string) error {
	start := time.Now()
	err := is.store.SetItem(ctx, key, value)
	var n int64
	if err == nil {
		n = int64(len(value))
	}
	telemetry.RecordBackendOp(ctx, is.name, "set", outcomeFromError(err), time.Since(start), n)
	return err
}

func (is *InstrumentedStore) RemoveItem(ctx context.Context, key string) error {
	start := time.Now()
	err := is.store.RemoveItem(ctx, key)
	telemetry.RecordBackendOp(ctx, is.name, "remove", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (is *InstrumentedStore) AllKeys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := is.store.AllKeys(ctx)
	telemetry.RecordBackendOp(ctx, is.name, "list", outcomeFromError(err), time.Since(start), 0)
	return keys, err
}

func (is *InstrumentedStore) MultiRemove(ctx context.Context, keys []string) error {
	start := time.Now()
	err := is.store.MultiRemove(ctx, keys)
	telemetry.RecordBackendOp(ctx, is.name, "multi_remove", outcomeFromError(err), time.Since(start), 0)
	return err
}

// ItemSize delegates to the underlying store if it implements SizeAwareStore.
func (is *InstrumentedStore) ItemSize(ctx context.Context, key string) (int64, error) {
	ss, ok := is.store.(SizeAwareStore)
	if !ok {
		v, err := is.GetItem(ctx, key)
		return int64(len(v)), err
	}
	start := time.Now()
	size, err := ss.ItemSize(ctx, key)
	telemetry.RecordBackendOp(ctx, is.name, "size", outcomeFromError(err), time.Since(start), 0)
	return size, err
}

// Unwrap returns the underlying store.
func (is *InstrumentedStore) Unwrap() Store {
	return is.store
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	default:
		return "error"
	}
}

// Compile-time interface checks
var (
	_ Store          = (*InstrumentedStore)(nil)
	_ SizeAwareStore = (*InstrumentedStore)(nil)
)
