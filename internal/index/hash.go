// Package index implements SharpCoreDB's two secondary-index flavors: a
// bucketed hash index for equality lookups and an ordered B-tree for range
// scans. Both map keys to row locations (storage.RowLoc: page and slot)
// rather than to the row bytes, and are rebuilt from a full table scan at database open —
// only the heap pages themselves are WAL-durable; an index is a derived
// structure that CreateIndex/Open can always recompute.
package index

import (
	"sync"

	"github.com/sharpcoredb/sharpcoredb/internal/storage"
)

// Hash is a bucketed hash index over one or more columns, used for
// equality predicates, giving O(1) expected lookup.
type Hash struct {
	mu      sync.RWMutex
	buckets map[string][]storage.RowLoc
	unique  bool
}

// NewHash creates an empty hash index.
func NewHash(unique bool) *Hash {
	return &Hash{buckets: make(map[string][]storage.RowLoc), unique: unique}
}

func hashKey(values []storage.Value) string {
	var b []byte
	for _, v := range values {
		b = append(b, v.KeyBytes()...)
		b = append(b, 0) // separator, guards against cross-column collisions
	}
	return string(b)
}

// Insert adds loc under the composite key values. Returns an error if the
// index is unique and the key is already present.
func (h *Hash) Insert(values []storage.Value, loc storage.RowLoc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := hashKey(values)
	if h.unique {
		if existing := h.buckets[k]; len(existing) > 0 {
			return ErrUniqueViolation
		}
	}
	h.buckets[k] = append(h.buckets[k], loc)
	return nil
}

// Lookup returns every row location stored under values.
func (h *Hash) Lookup(values []storage.Value) []storage.RowLoc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]storage.RowLoc{}, h.buckets[hashKey(values)]...)
}

// Delete removes loc from the bucket for values.
func (h *Hash) Delete(values []storage.Value, loc storage.RowLoc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := hashKey(values)
	locs := h.buckets[k]
	for i, l := range locs {
		if l == loc {
			h.buckets[k] = append(locs[:i], locs[i+1:]...)
			break
		}
	}
	if len(h.buckets[k]) == 0 {
		delete(h.buckets, k)
	}
}

// Len reports the number of distinct keys (not row locations) indexed.
func (h *Hash) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buckets)
}
