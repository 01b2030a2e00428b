// Package cache provides a size-bounded on-disk store for cached HTTP
// responses. It implements httpcache.Cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxEntries bounds the index independently of the byte budget.
const maxEntries = 1 << 16

// Disk stores one file per cache key and evicts least recently used
// entries once the total size exceeds maxBytes.
//
// Contents do not survive a restart: Open clears the directory.
type Disk struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger

	mu    sync.Mutex
	size  int64
	index *lru.Cache[string, int64] // key -> entry size
}

// Open prepares dir and returns an empty store bounded to maxBytes.
func Open(dir string, maxBytes int64, logger *slog.Logger) (*Disk, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache: max bytes must be positive; got %d", maxBytes)
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("cache: clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", dir, err)
	}

	d := &Disk{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger.With("component", "disk_cache"),
	}
	index, err := lru.NewWithEvict[string, int64](maxEntries, d.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: index: %w", err)
	}
	d.index = index
	return d, nil
}

// Get returns the stored response bytes for key.
func (d *Disk) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index.Get(key); !ok {
		return nil, false
	}
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		d.logger.Warn("cache read failed", "err", err)
		d.index.Remove(key)
		return nil, false
	}
	return data, true
}

// Set stores data under key. Entries larger than the whole budget are skipped.
func (d *Disk) Set(key string, data []byte) {
	n := int64(len(data))
	if n > d.maxBytes {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.WriteFile(d.path(key), data, 0o600); err != nil {
		d.logger.Warn("cache write failed", "err", err)
		return
	}

	if old, ok := d.index.Peek(key); ok {
		d.size -= old
	}
	d.index.Add(key, n)
	d.size += n

	for d.size > d.maxBytes {
		if _, _, ok := d.index.RemoveOldest(); !ok {
			break
		}
	}
}

// Delete removes key from the store.
func (d *Disk) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.index.Remove(key)
}

// Size returns the number of bytes currently stored.
func (d *Disk) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// onEvict runs synchronously inside index mutations, which only happen
// with d.mu held.
func (d *Disk) onEvict(key string, size int64) {
	d.size -= size
	if err := os.Remove(d.path(key)); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("cache evict failed", "err", err)
	}
}

func (d *Disk) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:]))
}
