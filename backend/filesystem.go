package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dotocache "github.com/wolfeidau/doto-cache"
)

// entryExt is the file extension of framed entry files.
const entryExt = ".kv"

// Filesystem implements Store using the local filesystem.
// Each key lives in its own framed file named by the BLAKE3 hash of the key,
// sharded into subdirectories. Writes are atomic using a temp file and rename pattern.
type Filesystem struct {
	root string
}

// NewFilesystem creates a new filesystem store rooted at the given path.
// The directory will be created if it does not exist.
func NewFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: absRoot}, nil
}

// Root returns the root directory path.
func (fs *Filesystem) Root() string {
	return fs.root
}

// GetItem retrieves the value stored at key.
func (fs *Filesystem) GetItem(ctx context.Context, key string) (string, error) {
	f, err := os.Open(fs.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", ClassifyCapacity("get", fmt.Errorf("opening file: %w", err))
	}
	defer func() { _ = f.Close() }()

	stored, value, err := ReadEntry(f)
	if err != nil {
		return "", ClassifyCapacity("get", fmt.Errorf("reading entry: %w", err))
	}
	if stored != key {
		// hash collision or a foreign file; treat as absent
		return "", ErrNotFound
	}
	return value, nil
}

// SetItem stores value at key using an atomic write.
func (fs *Filesystem) SetItem(ctx context.Context, key, value string) error {
	if err := fs.write(key, value); err != nil {
		return ClassifyCapacity("set", err)
	}
	return nil
}

func (fs *Filesystem) write(key, value string) error {
	path := fs.keyToPath(key)

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	// Write to temp file first
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up temp file on error
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := WriteEntry(tmp, key, value); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}

	// Sync to disk
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}

	// Close before rename
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// RemoveItem deletes key.
func (fs *Filesystem) RemoveItem(ctx context.Context, key string) error {
	err := os.Remove(fs.keyToPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// AllKeys walks the root and returns the key stored in every entry file.
func (fs *Filesystem) AllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(fs.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip temp files and anything that is not an entry
		if strings.HasPrefix(d.Name(), ".tmp-") || filepath.Ext(d.Name()) != entryExt {
			return nil
		}
		key, err := readKeyFile(path)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, ClassifyCapacity("list", fmt.Errorf("walking directory: %w", err))
	}
	return keys, nil
}

// MultiRemove deletes all the given keys, stopping at the first failure.
func (fs *Filesystem) MultiRemove(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := fs.RemoveItem(ctx, key); err != nil {
			return fmt.Errorf("removing %q: %w", key, err)
		}
	}
	return nil
}

// ItemSize returns the size of the value stored at key, excluding framing.
func (fs *Filesystem) ItemSize(ctx context.Context, key string) (int64, error) {
	info, err := os.Stat(fs.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size() - FrameOverhead(key), nil
}

// keyToPath converts a key to a sharded filesystem path.
func (fs *Filesystem) keyToPath(key string) string {
	h := dotocache.HashString(key)
	return filepath.Join(fs.root, h.Dir(), h.String()+entryExt)
}

func readKeyFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	key, err := ReadEntryKey(io.LimitReader(f, headerSize+MaxKeySize))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return key, nil
}

// Compile-time interface checks
var (
	_ Store          = (*Filesystem)(nil)
	_ SizeAwareStore = (*Filesystem)(nil)
)
