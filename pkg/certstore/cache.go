package certstore

import (
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/crocs-muni/cevast/pkg/types"
)

const cacheFilename = ".cevast-cache.bbolt"

// existenceCache is the advisory, in-memory existence cache described
// for a store: it never participates in commit/rollback invariants,
// it only short-circuits repeated Exists lookups. A missing or
// unreadable persisted cache file degrades silently to an in-memory-only
// cache backed by the authoritative archive lookup on every miss.
type existenceCache struct {
	mu  sync.RWMutex
	mem map[types.CertificateID]struct{}
	db  *bolt.DB
}

func openExistenceCache(path string) *existenceCache {
	c := &existenceCache{mem: make(map[types.CertificateID]struct{})}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		// Advisory only: proceed with an in-memory cache.
		return c
	}
	c.db = db
	c.load()
	return c
}

func (c *existenceCache) load() {
	if c.db == nil {
		return
	}
	_ = c.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(blockID []byte, b *bolt.Bucket) error {
			return b.ForEach(func(certID, _ []byte) error {
				c.mem[types.CertificateID(certID)] = struct{}{}
				return nil
			})
		})
	})
}

// Has reports whether id is known to exist, per the advisory cache.
func (c *existenceCache) Has(id types.CertificateID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.mem[id]
	return ok
}

// Add records id as existing, both in memory and, if a persisted
// cache file was opened, under its block bucket.
func (c *existenceCache) Add(id types.CertificateID, blockID string) {
	c.mu.Lock()
	c.mem[id] = struct{}{}
	c.mu.Unlock()

	if c.db == nil {
		return
	}
	_ = c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(blockID))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), nil)
	})
}

// Remove drops id from the cache, self-healing the advisory cache
// after an authoritative lookup proves it stale.
func (c *existenceCache) Remove(id types.CertificateID, blockID string) {
	c.mu.Lock()
	delete(c.mem, id)
	c.mu.Unlock()

	if c.db == nil {
		return
	}
	_ = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(blockID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// Close releases the persisted cache file, if one was opened.
func (c *existenceCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
