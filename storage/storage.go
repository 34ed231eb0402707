// Package storage provides a bounded write-through cache in front of a
// backend.Store.
//
// Every operation on LimitedStore is total: failures are logged, reported
// through the event hook and metrics, and converted to a miss or a no-op.
// A failing cache degrades to no caching, never to a failed caller.
package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/wolfeidau/doto-cache/backend"
	"github.com/wolfeidau/doto-cache/guard"
	"github.com/wolfeidau/doto-cache/telemetry"
)

const (
	// DefaultNamespace is the namespace used when none is configured.
	DefaultNamespace = "instant"

	// DefaultMaxItemSize is the per-write ceiling in bytes.
	DefaultMaxItemSize = guard.DefaultMaxItemSize

	// DefaultMaxTotalSize is the aggregate budget for the namespace in bytes.
	DefaultMaxTotalSize int64 = 2_000_000
)

// Eviction triggers.
const (
	TriggerCapacity = "capacity"
	TriggerManual   = "manual"
	TriggerSweep    = "sweep"
)

// LimitedStore is a size-bounded adapter over a backend.Store.
// All keys are stored as "@{namespace}_{key}" so that the namespace can be
// identified and evicted in bulk.
type LimitedStore struct {
	store        backend.Store
	namespace    string
	prefix       string
	maxItemSize  int
	maxTotalSize int64
	logger       *slog.Logger
	hook         EventHook
}

// Option configures a LimitedStore.
type Option func(*LimitedStore)

// WithNamespace sets the namespace prefix.
func WithNamespace(namespace string) Option {
	return func(s *LimitedStore) {
		s.namespace = namespace
	}
}

// WithMaxItemSize sets the per-write ceiling in bytes.
func WithMaxItemSize(n int) Option {
	return func(s *LimitedStore) {
		s.maxItemSize = n
	}
}

// WithMaxTotalSize sets the aggregate budget enforced by the Sweeper.
func WithMaxTotalSize(n int64) Option {
	return func(s *LimitedStore) {
		s.maxTotalSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *LimitedStore) {
		s.logger = logger
	}
}

// WithEventHook registers a callback for rejections, evictions and store errors.
func WithEventHook(hook EventHook) Option {
	return func(s *LimitedStore) {
		s.hook = hook
	}
}

// New creates a LimitedStore over store.
func New(store backend.Store, opts ...Option) *LimitedStore {
	s := &LimitedStore{
		store:        store,
		namespace:    DefaultNamespace,
		maxItemSize:  DefaultMaxItemSize,
		maxTotalSize: DefaultMaxTotalSize,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.prefix = "@" + s.namespace + "_"
	s.logger = s.logger.With("component", "storage", "namespace", s.namespace)
	return s
}

// Namespace returns the configured namespace.
func (s *LimitedStore) Namespace() string {
	return s.namespace
}

// Prefix returns the prefix shared by every stored key.
func (s *LimitedStore) Prefix() string {
	return s.prefix
}

// Key returns the store key for a logical key.
func (s *LimitedStore) Key(key string) string {
	return s.prefix + key
}

// MaxItemSize returns the per-write ceiling.
func (s *LimitedStore) MaxItemSize() int {
	return s.maxItemSize
}

// MaxTotalSize returns the aggregate budget.
func (s *LimitedStore) MaxTotalSize() int64 {
	return s.maxTotalSize
}

// Get returns the value stored for key. The boolean is false on a miss and on
// any failure. A failure classified as capacity exhaustion evicts the whole
// namespace before returning.
func (s *LimitedStore) Get(ctx context.Context, key string) (string, bool) {
	v, err := s.store.GetItem(ctx, s.Key(key))
	if err == nil {
		return v, true
	}
	if errors.Is(err, backend.ErrNotFound) {
		return "", false
	}

	s.storeFailed(ctx, "get", key, err)
	return "", false
}

// Admission is the outcome of a write.
type Admission string

const (
	AdmissionStored   Admission = "stored"
	AdmissionRejected Admission = "rejected"
	AdmissionFailed   Admission = "failed"
)

// Set writes value under key unless the size guard rejects it. Rejected
// values are logged and skipped. The write is all-or-nothing.
func (s *LimitedStore) Set(ctx context.Context, key, value string) {
	s.Write(ctx, key, value)
}

// Write is Set reporting what happened to the value.
func (s *LimitedStore) Write(ctx context.Context, key, value string) Admission {
	if err := guard.Check(value, s.maxItemSize); err != nil {
		s.rejected(ctx, key, err)
		return AdmissionRejected
	}

	if err := s.store.SetItem(ctx, s.Key(key), value); err != nil {
		telemetry.RecordValueSize(ctx, s.namespace, string(AdmissionFailed), len(value))
		s.storeFailed(ctx, "set", key, err)
		return AdmissionFailed
	}
	telemetry.RecordValueSize(ctx, s.namespace, string(AdmissionStored), len(value))
	return AdmissionStored
}

// RejectOversize records a write of size bytes that was refused before the
// value was read, such as a request body whose declared length is over the
// ceiling. Sizes within the ceiling are left to Write and return "".
func (s *LimitedStore) RejectOversize(ctx context.Context, key string, size int) Admission {
	if size <= s.maxItemSize {
		return ""
	}
	s.rejected(ctx, key, guard.TooLarge(size, s.maxItemSize))
	return AdmissionRejected
}

// Remove deletes key. Failures are logged and swallowed.
func (s *LimitedStore) Remove(ctx context.Context, key string) {
	if err := s.store.RemoveItem(ctx, s.Key(key)); err != nil {
		s.logger.Warn("failed to remove cached item", "key", key, "error", err)
		s.emit(Event{Kind: EventStoreError, Key: key, Op: "remove", Err: err})
	}
}

// EvictNamespace removes every key under the namespace in one batch and
// returns the number removed. Keys of other namespaces are untouched.
func (s *LimitedStore) EvictNamespace(ctx context.Context) int {
	return s.evict(ctx, TriggerManual)
}

// NamespaceSize returns the sum of value sizes under the namespace, or 0 on
// any failure.
func (s *LimitedStore) NamespaceSize(ctx context.Context) int64 {
	entries, err := s.entries(ctx)
	if err != nil {
		s.logger.Warn("failed to compute namespace size", "error", err)
		return 0
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	return total
}

// Stats summarises the namespace.
type Stats struct {
	Namespace    string `json:"namespace"`
	Entries      int    `json:"entries"`
	TotalBytes   int64  `json:"total_bytes"`
	MaxItemSize  int    `json:"max_item_size"`
	MaxTotalSize int64  `json:"max_total_size"`
}

// Stats returns entry count and byte totals for the namespace.
func (s *LimitedStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Namespace:    s.namespace,
		MaxItemSize:  s.maxItemSize,
		MaxTotalSize: s.maxTotalSize,
	}
	entries, err := s.entries(ctx)
	if err != nil {
		return st, err
	}
	st.Entries = len(entries)
	for _, e := range entries {
		st.TotalBytes += e.size
	}
	return st, nil
}

func (s *LimitedStore) rejected(ctx context.Context, key string, err error) {
	var rej *guard.RejectionError
	if !errors.As(err, &rej) {
		s.logger.Warn("rejected cache write", "key", key, "error", err)
		return
	}

	switch rej.Reason {
	case guard.ReasonTooLarge:
		s.logger.Warn("value exceeds max item size, skipping write",
			"key", key,
			"size", rej.Size,
			"limit", rej.Limit,
		)
	default:
		s.logger.Warn("value looks like embedded image data, skipping write",
			"key", key,
			"size", rej.Size,
		)
	}

	telemetry.RecordAdmissionRejected(ctx, s.namespace, rej.Reason)
	telemetry.RecordValueSize(ctx, s.namespace, string(AdmissionRejected), rej.Size)
	s.emit(Event{Kind: EventRejected, Key: key, Reason: rej.Reason, Size: int64(rej.Size), Err: err})
}

// storeFailed reports a store error. Errors are classified here as well as in
// the stores, so any Store reporting exhaustion only as message text still
// triggers eviction.
func (s *LimitedStore) storeFailed(ctx context.Context, op, key string, err error) {
	err = backend.ClassifyCapacity(op, err)
	s.logger.Warn("cache store operation failed", "op", op, "key", key, "error", err)
	s.emit(Event{Kind: EventStoreError, Key: key, Op: op, Err: err})

	if backend.IsCapacityExceeded(err) {
		s.logger.Warn("store capacity exhausted, evicting namespace", "op", op)
		s.evict(ctx, TriggerCapacity)
	}
}

func (s *LimitedStore) evict(ctx context.Context, trigger string) int {
	keys, err := s.namespacedKeys(ctx)
	if err != nil {
		s.logger.Warn("failed to list keys for eviction", "trigger", trigger, "error", err)
		return 0
	}
	if len(keys) == 0 {
		s.logger.Debug("namespace already empty", "trigger", trigger)
		return 0
	}

	if err := s.store.MultiRemove(ctx, keys); err != nil {
		s.logger.Warn("failed to evict namespace", "trigger", trigger, "keys", len(keys), "error", err)
		return 0
	}

	s.logger.Info("evicted namespace", "trigger", trigger, "keys", len(keys))
	telemetry.RecordNamespaceEviction(ctx, s.namespace, trigger, len(keys))
	s.emit(Event{Kind: EventEvicted, Reason: trigger, Count: len(keys)})
	return len(keys)
}

// namespacedKeys lists store keys carrying the namespace prefix.
func (s *LimitedStore) namespacedKeys(ctx context.Context) ([]string, error) {
	all, err := s.store.AllKeys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, s.prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

type entry struct {
	key  string // full store key
	size int64
}

// entries lists namespaced keys with their value sizes. Keys removed between
// listing and sizing are skipped.
func (s *LimitedStore) entries(ctx context.Context) ([]entry, error) {
	keys, err := s.namespacedKeys(ctx)
	if err != nil {
		return nil, err
	}

	sized, _ := s.store.(backend.SizeAwareStore)
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		var size int64
		if sized != nil {
			size, err = sized.ItemSize(ctx, k)
		} else {
			var v string
			v, err = s.store.GetItem(ctx, k)
			size = int64(len(v))
		}
		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entry{key: k, size: size})
	}
	return out, nil
}

func (s *LimitedStore) emit(e Event) {
	if s.hook == nil {
		return
	}
	e.Namespace = s.namespace
	s.hook(e)
}
