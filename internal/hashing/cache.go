package hashing

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unique"

	"kiln/internal/logging"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// MemoEntry is a digest together with the file metadata it was computed for.
type MemoEntry struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
	Digest  []byte `json:"digest"`
}

func (m MemoEntry) matches(info os.FileInfo) bool {
	return m.Size == info.Size() && m.ModTime == info.ModTime().UnixNano() && len(m.Digest) == DigestSize
}

// Memo persists digests across processes.
type Memo interface {
	Load(path string) (MemoEntry, bool, error)
	Store(path string, entry MemoEntry) error
	Forget(path string) error
}

// Cache memoizes file digests keyed by path, size and modification time.
// All access goes through a Lease.
type Cache struct {
	fs      afero.Fs
	entries *lru.Cache[unique.Handle[string], MemoEntry]
	memo    Memo
	logger  *zap.Logger
	mu      sync.RWMutex

	hits   atomic.Int64
	hashed atomic.Int64
}

// Stats counts memo hits and digests actually computed.
type Stats struct {
	Hits   int64
	Hashed int64
}

// NewCache creates a cache holding up to size digests in memory. memo may be
// nil.
func NewCache(fs afero.Fs, size int, memo Memo, logger *zap.Logger) (*Cache, error) {
	if size <= 0 {
		size = 1
	}
	entries, err := lru.New[unique.Handle[string], MemoEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating hash cache: %w", err)
	}
	logger = logging.OrNop(logger)
	return &Cache{
		fs:      fs,
		entries: entries,
		memo:    memo,
		logger:  logger,
	}, nil
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Hashed: c.hashed.Load()}
}

// Lease is a scoped acquisition of the cache. Exclusive leases may record
// new digests; shared leases only read.
type Lease struct {
	cache     *Cache
	exclusive bool
	released  atomic.Bool
}

// Acquire blocks until the cache can be held in the requested mode. The
// caller must Release the lease on every path, typically with defer.
func (c *Cache) Acquire(exclusive bool) *Lease {
	if exclusive {
		c.mu.Lock()
	} else {
		c.mu.RLock()
	}
	return &Lease{cache: c, exclusive: exclusive}
}

// Release gives the lease back. Releasing twice is harmless.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	if l.exclusive {
		l.cache.mu.Unlock()
	} else {
		l.cache.mu.RUnlock()
	}
}

// Hash returns the digest for the file at path described by info,
// consulting the memo before reading the file.
func (l *Lease) Hash(path string, info os.FileInfo) ([]byte, error) {
	if l.released.Load() {
		return nil, fmt.Errorf("hashing %s: lease already released", path)
	}
	c := l.cache
	key := unique.Make(path)

	if m, ok := c.entries.Get(key); ok && m.matches(info) {
		c.hits.Add(1)
		return m.Digest, nil
	}
	if c.memo != nil {
		m, ok, err := c.memo.Load(path)
		if err != nil {
			c.logger.Debug("hash memo lookup failed", zap.String("path", path), zap.Error(err))
		} else if ok && m.matches(info) {
			c.hits.Add(1)
			if l.exclusive {
				c.entries.Add(key, m)
			}
			return m.Digest, nil
		}
	}

	digest, err := HashFile(c.fs, path)
	if err != nil {
		return nil, err
	}
	c.hashed.Add(1)

	if l.exclusive {
		m := MemoEntry{Size: info.Size(), ModTime: info.ModTime().UnixNano(), Digest: digest}
		c.entries.Add(key, m)
		if c.memo != nil {
			if err := c.memo.Store(path, m); err != nil {
				c.logger.Debug("hash memo write failed", zap.String("path", path), zap.Error(err))
			}
		}
	}
	return digest, nil
}

// Invalidate drops memoized digests for paths, in memory and in the
// persistent memo.
func (l *Lease) Invalidate(paths ...string) {
	if !l.exclusive {
		return
	}
	c := l.cache
	for _, p := range paths {
		c.entries.Remove(unique.Make(p))
		if c.memo == nil {
			continue
		}
		if err := c.memo.Forget(p); err != nil {
			c.logger.Debug("hash memo delete failed", zap.String("path", p), zap.Error(err))
		}
	}
}
