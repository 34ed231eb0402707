package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wolfeidau/doto-cache/backend"
	"github.com/wolfeidau/doto-cache/storage"
)

// StoreFlags select and configure the backing store and the namespace over it.
type StoreFlags struct {
	Backend     string `help:"Backing store." enum:"memory,filesystem,bolt,redis" default:"bolt" env:"DOTO_BACKEND"`
	StoragePath string `help:"Directory for the filesystem and bolt backends." default:"./cache" env:"DOTO_STORAGE_PATH" type:"path"`
	RedisURL    string `help:"Redis URL for the redis backend." default:"redis://localhost:6379/0" env:"DOTO_REDIS_URL"`
	StoreQuota  int64  `help:"Byte quota enforced by the memory and bolt backends (0 disables)." default:"0" env:"DOTO_STORE_QUOTA"`
	Compress    bool   `help:"Compress large values in the bolt backend." default:"true" negatable:"" env:"DOTO_COMPRESS"`

	Namespace    string `help:"Namespace prefixing every key." default:"${namespace}" env:"DOTO_NAMESPACE"`
	MaxItemSize  int    `help:"Largest value accepted, in bytes." default:"${max_item_size}" env:"DOTO_MAX_ITEM_SIZE"`
	MaxTotalSize int64  `help:"Namespace budget enforced by the sweeper, in bytes (0 disables)." default:"${max_total_size}" env:"DOTO_MAX_TOTAL_SIZE"`
}

// open builds the configured store. The returned func releases it.
func (f *StoreFlags) open(ctx context.Context, logger *slog.Logger) (*storage.LimitedStore, func(), error) {
	raw, closeFn, err := f.openBackend(ctx, logger)
	if err != nil {
		return nil, nil, err
	}

	store := storage.New(backend.NewInstrumentedStore(raw, f.Backend),
		storage.WithNamespace(f.Namespace),
		storage.WithMaxItemSize(f.MaxItemSize),
		storage.WithMaxTotalSize(f.MaxTotalSize),
		storage.WithLogger(logger),
		storage.WithEventHook(func(e storage.Event) {
			switch e.Kind {
			case storage.EventEvicted:
				logger.Info("namespace evicted", "namespace", e.Namespace, "keys", e.Count, "trigger", e.Reason)
			case storage.EventSwept:
				logger.Debug("swept key", "namespace", e.Namespace, "key", e.Key, "size", e.Size)
			}
		}),
	)

	closer := func() {
		if err := closeFn(); err != nil {
			logger.Warn("closing store", "backend", f.Backend, "error", err)
		}
	}
	return store, closer, nil
}

func (f *StoreFlags) openBackend(ctx context.Context, logger *slog.Logger) (backend.Store, func() error, error) {
	noop := func() error { return nil }

	switch f.Backend {
	case "memory":
		var opts []backend.MemoryOption
		if f.StoreQuota > 0 {
			opts = append(opts, backend.WithMemoryQuota(f.StoreQuota))
		}
		return backend.NewMemory(opts...), noop, nil

	case "filesystem":
		fs, err := backend.NewFilesystem(f.StoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("creating filesystem backend: %w", err)
		}
		return fs, noop, nil

	case "bolt":
		if err := os.MkdirAll(f.StoragePath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating storage directory: %w", err)
		}
		db := backend.NewBolt(
			backend.WithBoltLogger(logger.With("component", "bolt")),
			backend.WithMaxBytes(f.StoreQuota),
			backend.WithCompression(f.Compress),
		)
		if err := db.Open(filepath.Join(f.StoragePath, "doto.db")); err != nil {
			return nil, nil, fmt.Errorf("opening bolt backend: %w", err)
		}
		return db, db.Close, nil

	case "redis":
		r, err := backend.DialRedis(ctx, f.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return r, r.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", f.Backend)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
