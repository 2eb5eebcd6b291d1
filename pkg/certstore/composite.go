package certstore

import (
	"fmt"
	"sync"

	"github.com/crocs-muni/cevast/pkg/types"
)

// CompositeStore fans a group of ReadOnlyStore/Store children out
// through a single interface. Reads try each registered child in
// registration order and return the first success; writes go to every
// registered child that also implements Store (its "io-allowed"
// subset), also in registration order. Registering the same child
// twice, or unregistering one not registered, is a no-op.
type CompositeStore struct {
	mu       sync.RWMutex
	children []ReadOnlyStore // duplicate-free, insertion-ordered
	ioAllow  []Store         // subset of children implementing Store, same relative order
}

// NewCompositeStore returns an empty CompositeStore.
func NewCompositeStore() *CompositeStore {
	return &CompositeStore{}
}

// Register adds child to the composite, at the end of the
// registration order. If child also implements Store, it additionally
// joins the io-allowed subset used by Insert/Delete/Commit/Rollback.
func (c *CompositeStore) Register(child ReadOnlyStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.children {
		if existing == child {
			return
		}
	}
	c.children = append(c.children, child)
	if w, ok := child.(Store); ok {
		c.ioAllow = append(c.ioAllow, w)
	}
}

// Unregister removes child from the composite and its io-allowed
// subset, if present.
func (c *CompositeStore) Unregister(child ReadOnlyStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.children {
		if existing == child {
			c.children = append(c.children[:i:i], c.children[i+1:]...)
			break
		}
	}
	if w, ok := child.(Store); ok {
		for i, existing := range c.ioAllow {
			if existing == w {
				c.ioAllow = append(c.ioAllow[:i:i], c.ioAllow[i+1:]...)
				break
			}
		}
	}
}

// IsRegistered reports whether child is currently registered.
func (c *CompositeStore) IsRegistered(child ReadOnlyStore) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, existing := range c.children {
		if existing == child {
			return true
		}
	}
	return false
}

// Get returns the first successful Get result across registered
// children, tried in registration order.
func (c *CompositeStore) Get(id types.CertificateID) (types.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, child := range c.children {
		if cert, err := child.Get(id); err == nil {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotAvailable, id)
}

// Export returns the first successful Export result across registered
// children, tried in registration order.
func (c *CompositeStore) Export(id types.CertificateID, targetDir string, copyIfExists bool) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, child := range c.children {
		if path, err := child.Export(id, targetDir, copyIfExists); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotAvailable, id)
}

// Exists reports whether any registered child has id.
func (c *CompositeStore) Exists(id types.CertificateID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, child := range c.children {
		if child.Exists(id) {
			return true
		}
	}
	return false
}

// ExistsAll reports whether every id in ids exists in some registered
// child (not necessarily the same one for each id).
func (c *CompositeStore) ExistsAll(ids []types.CertificateID) bool {
	for _, id := range ids {
		if !c.Exists(id) {
			return false
		}
	}
	return true
}

// Insert forwards to every io-allowed child, in registration order.
// The first error aborts remaining children and is returned.
func (c *CompositeStore) Insert(id types.CertificateID, cert types.Certificate) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, child := range c.ioAllow {
		if err := child.Insert(id, cert); err != nil {
			return err
		}
	}
	return nil
}

// Delete forwards to every io-allowed child, in registration order.
func (c *CompositeStore) Delete(id types.CertificateID) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, child := range c.ioAllow {
		if err := child.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

// Rollback forwards to every io-allowed child, in registration order.
func (c *CompositeStore) Rollback() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, child := range c.ioAllow {
		if err := child.Rollback(); err != nil {
			return err
		}
	}
	return nil
}

// Commit forwards to every io-allowed child, in registration order.
// It returns the (inserted, deleted) tuple reported by the last
// io-allowed child, not a sum across children: callers treating the
// composite as a single logical store must not rely on combined
// counts across heterogeneous children, per the composite's own
// fan-out contract.
func (c *CompositeStore) Commit(cores int) (int, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var inserted, deleted int
	for _, child := range c.ioAllow {
		i, d, err := child.Commit(cores)
		inserted, deleted = i, d
		if err != nil {
			return inserted, deleted, err
		}
	}
	return inserted, deleted, nil
}
