package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names for bbolt storage.
var (
	bucketItems = []byte("items") // key -> encoded value
	bucketStats = []byte("stats") // statUsedBytes -> 8-byte big-endian total
)

var statUsedBytes = []byte("used_bytes")

// Bolt implements Store using bbolt.
// Every write updates a byte counter in the same transaction, which backs the
// optional quota and makes Used cheap.
type Bolt struct {
	db       *bbolt.DB
	codec    *Codec
	logger   *slog.Logger
	maxBytes int64
	compress bool
	noSync   bool // disables fsync per transaction (for testing only)
}

// BoltOption configures a Bolt instance.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger for the database.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// WithMaxBytes limits the total stored bytes (keys plus encoded values).
// Writes that would cross the limit fail with ErrCapacityExceeded.
// Zero disables the quota.
func WithMaxBytes(maxBytes int64) BoltOption {
	return func(b *Bolt) {
		b.maxBytes = maxBytes
	}
}

// WithCompression enables zstd compression of large values.
func WithCompression(enabled bool) BoltOption {
	return func(b *Bolt) {
		b.compress = enabled
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// NewBolt creates a new Bolt instance with options. Call Open before use.
func NewBolt(opts ...BoltOption) *Bolt {
	b := &Bolt{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *Bolt) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	codec, err := NewCodec(b.compress)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating codec: %w", err)
	}
	b.codec = codec

	b.logger.Debug("opened bolt store", "path", path, "noSync", b.noSync, "maxBytes", b.maxBytes, "compress", b.compress)
	return nil
}

func (b *Bolt) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketItems, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *Bolt) Close() error {
	if b.codec != nil {
		b.codec.Close()
		b.codec = nil
	}
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing bolt store")
	err := b.db.Close()
	b.db = nil
	return err
}

// GetItem retrieves the value stored at key.
func (b *Bolt) GetItem(_ context.Context, key string) (string, error) {
	var value string
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketItems).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		// Decode copies out of the mmap before the transaction ends.
		v, err := b.codec.Decode(raw)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", ClassifyCapacity("get", err)
	}
	return value, nil
}

// SetItem stores value at key, enforcing the byte quota.
func (b *Bolt) SetItem(_ context.Context, key, value string) error {
	encoded := b.codec.Encode(value)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(bucketItems)
		stats := tx.Bucket(bucketStats)

		delta := int64(len(key) + len(encoded))
		if old := items.Get([]byte(key)); old != nil {
			delta -= int64(len(key) + len(old))
		}

		used := readUsed(stats)
		if b.maxBytes > 0 && used+delta > b.maxBytes {
			return &CapacityError{
				Op:  "set",
				Err: fmt.Errorf("quota of %d bytes reached (used %d, need %d)", b.maxBytes, used, delta),
			}
		}

		if err := items.Put([]byte(key), encoded); err != nil {
			return fmt.Errorf("putting item: %w", err)
		}
		return writeUsed(stats, used+delta)
	})
	return ClassifyCapacity("set", err)
}

// RemoveItem deletes key.
func (b *Bolt) RemoveItem(ctx context.Context, key string) error {
	return b.MultiRemove(ctx, []string{key})
}

// AllKeys returns every key in the store.
func (b *Bolt) AllKeys(_ context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, ClassifyCapacity("list", err)
	}
	return keys, nil
}

// MultiRemove deletes all the given keys in a single transaction.
func (b *Bolt) MultiRemove(_ context.Context, keys []string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(bucketItems)
		stats := tx.Bucket(bucketStats)

		used := readUsed(stats)
		for _, key := range keys {
			old := items.Get([]byte(key))
			if old == nil {
				continue
			}
			used -= int64(len(key) + len(old))
			if err := items.Delete([]byte(key)); err != nil {
				return fmt.Errorf("deleting item: %w", err)
			}
		}
		if used < 0 {
			used = 0
		}
		return writeUsed(stats, used)
	})
	return ClassifyCapacity("remove", err)
}

// ItemSize returns the decoded size of the value stored at key.
func (b *Bolt) ItemSize(ctx context.Context, key string) (int64, error) {
	v, err := b.GetItem(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(v)), nil
}

// Used returns the bytes accounted against the quota.
func (b *Bolt) Used() (int64, error) {
	var used int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		used = readUsed(tx.Bucket(bucketStats))
		return nil
	})
	return used, err
}

func readUsed(stats *bbolt.Bucket) int64 {
	raw := stats.Get(statUsedBytes)
	if len(raw) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(raw)) //nolint:gosec // counter is never negative
}

func writeUsed(stats *bbolt.Bucket, used int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(used)) //nolint:gosec // used is clamped at zero
	if err := stats.Put(statUsedBytes, buf); err != nil {
		return fmt.Errorf("updating used bytes: %w", err)
	}
	return nil
}

// Compile-time interface checks
var (
	_ Store          = (*Bolt)(nil)
	_ SizeAwareStore = (*Bolt)(nil)
)
