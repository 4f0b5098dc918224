package index

import (
	"sort"
	"sync"

	"github.com/sharpcoredb/sharpcoredb/internal/storage"
)

// btreeFanout is the maximum number of keys per node before a split.
const btreeFanout = 64

// entry is one key in a BTree node, keyed by a (possibly composite) tuple
// of column values and carrying every row location sharing that key (a
// non-unique ordered index may map one key to several rows).
type entry struct {
	key  []storage.Value
	locs []storage.RowLoc
}

// node is an in-memory B-tree node. Leaf nodes carry entries directly;
// internal nodes carry separator keys in entries (locs unused) and route
// through children, split on overflow the way a disk-backed B-tree splits
// its leaf/internal pages — minus the page-framing, since SharpCoreDB's
// ordered index is rebuilt from a table scan at open rather than
// persisted page-by-page (see package doc).
type node struct {
	leaf     bool
	entries  []entry
	children []*node
}

// BTree is an ordered, in-memory index over one or more columns, with a
// fixed fan-out. Comparisons follow storage.Value.Compare — the same
// total-order trait the query compiler uses for ORDER BY and range
// predicates.
type BTree struct {
	mu     sync.RWMutex
	root   *node
	unique bool
}

// NewBTree creates an empty ordered index.
func NewBTree(unique bool) *BTree {
	return &BTree{root: &node{leaf: true}, unique: unique}
}

func compareKeys(a, b []storage.Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		c, err := a[i].Compare(b[i])
		if err != nil {
			// Heterogeneous, incomparable types: fall back to byte-key
			// ordering so the tree still has a total order.
			ab, bb := a[i].KeyBytes(), b[i].KeyBytes()
			switch {
			case string(ab) < string(bb):
				return -1
			case string(ab) > string(bb):
				return 1
			default:
				continue
			}
		}
		if c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// Insert adds loc under key. In a unique index, a duplicate key is
// rejected; otherwise loc is appended to the existing key's location list.
func (t *BTree) Insert(key []storage.Value, loc storage.RowLoc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.insertLeaf(t.root, key, loc) == errUniqueMarker {
		return ErrUniqueViolation
	}
	if len(t.root.entries) > btreeFanout {
		left, right, sep := splitNode(t.root)
		t.root = &node{
			leaf:     false,
			entries:  []entry{{key: sep}},
			children: []*node{left, right},
		}
	}
	return nil
}

// sentinel used internally to signal a unique-violation up the recursion
// without allocating an error on the hot path.
var errUniqueMarker = struct{}{}

func (t *BTree) insertLeaf(n *node, key []storage.Value, loc storage.RowLoc) interface{} {
	if n.leaf {
		idx := sort.Search(len(n.entries), func(i int) bool { return compareKeys(n.entries[i].key, key) >= 0 })
		if idx < len(n.entries) && compareKeys(n.entries[idx].key, key) == 0 {
			if t.unique && len(n.entries[idx].locs) > 0 {
				return errUniqueMarker
			}
			n.entries[idx].locs = append(n.entries[idx].locs, loc)
			return nil
		}
		e := entry{key: key, locs: []storage.RowLoc{loc}}
		n.entries = append(n.entries, entry{})
		copy(n.entries[idx+1:], n.entries[idx:])
		n.entries[idx] = e
		return nil
	}

	idx := sort.Search(len(n.entries), func(i int) bool { return compareKeys(n.entries[i].key, key) > 0 })
	res := t.insertLeaf(n.children[idx], key, loc)
	if res == errUniqueMarker {
		return errUniqueMarker
	}
	if len(n.children[idx].entries) > btreeFanout {
		left, right, sep := splitNode(n.children[idx])
		n.children[idx] = left
		n.entries = append(n.entries, entry{})
		copy(n.entries[idx+1:], n.entries[idx:])
		n.entries[idx] = entry{key: sep}
		n.children = append(n.children, nil)
		copy(n.children[idx+2:], n.children[idx+1:])
		n.children[idx+1] = right
	}
	return nil
}

// splitNode divides an overfull node at its midpoint, returning the two
// halves plus the separator key promoted to the parent.
func splitNode(n *node) (left, right *node, sep []storage.Value) {
	mid := len(n.entries) / 2
	if n.leaf {
		left = &node{leaf: true, entries: append([]entry{}, n.entries[:mid]...)}
		right = &node{leaf: true, entries: append([]entry{}, n.entries[mid:]...)}
		return left, right, right.entries[0].key
	}
	left = &node{entries: append([]entry{}, n.entries[:mid]...), children: append([]*node{}, n.children[:mid+1]...)}
	right = &node{entries: append([]entry{}, n.entries[mid+1:]...), children: append([]*node{}, n.children[mid+1:]...)}
	return left, right, n.entries[mid].key
}

// Lookup returns every row location stored under the exact key.
func (t *BTree) Lookup(key []storage.Value) []storage.RowLoc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.root
	for !n.leaf {
		idx := sort.Search(len(n.entries), func(i int) bool { return compareKeys(n.entries[i].key, key) > 0 })
		n = n.children[idx]
	}
	idx := sort.Search(len(n.entries), func(i int) bool { return compareKeys(n.entries[i].key, key) >= 0 })
	if idx < len(n.entries) && compareKeys(n.entries[idx].key, key) == 0 {
		return append([]storage.RowLoc{}, n.entries[idx].locs...)
	}
	return nil
}

// Range walks keys in [lo, hi] (either bound may be nil for open-ended)
// in ascending order, calling fn for each matching row location. Returning
// false from fn stops the walk early.
func (t *BTree) Range(lo, hi []storage.Value, fn func(key []storage.Value, loc storage.RowLoc) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.rangeWalk(t.root, lo, hi, fn)
}

func (t *BTree) rangeWalk(n *node, lo, hi []storage.Value, fn func([]storage.Value, storage.RowLoc) bool) bool {
	if n.leaf {
		start := 0
		if lo != nil {
			start = sort.Search(len(n.entries), func(i int) bool { return compareKeys(n.entries[i].key, lo) >= 0 })
		}
		for i := start; i < len(n.entries); i++ {
			if hi != nil && compareKeys(n.entries[i].key, hi) > 0 {
				return false
			}
			for _, loc := range n.entries[i].locs {
				if !fn(n.entries[i].key, loc) {
					return false
				}
			}
		}
		return true
	}
	start := 0
	if lo != nil {
		start = sort.Search(len(n.entries), func(i int) bool { return compareKeys(n.entries[i].key, lo) > 0 })
	}
	for i := start; i <= len(n.children)-1; i++ {
		if i > start && hi != nil && compareKeys(n.entries[i-1].key, hi) > 0 {
			return false
		}
		if !t.rangeWalk(n.children[i], lo, hi, fn) {
			return false
		}
	}
	return true
}

// Delete removes loc from the entry for key.
func (t *BTree) Delete(key []storage.Value, loc storage.RowLoc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.root
	for !n.leaf {
		idx := sort.Search(len(n.entries), func(i int) bool { return compareKeys(n.entries[i].key, key) > 0 })
		n = n.children[idx]
	}
	idx := sort.Search(len(n.entries), func(i int) bool { return compareKeys(n.entries[i].key, key) >= 0 })
	if idx >= len(n.entries) || compareKeys(n.entries[idx].key, key) != 0 {
		return
	}
	locs := n.entries[idx].locs
	for i, l := range locs {
		if l == loc {
			n.entries[idx].locs = append(locs[:i], locs[i+1:]...)
			break
		}
	}
	// Underfull leaves/nodes are left in place (no merge/rebalance): the
	// index is a derived, in-memory structure rebuilt wholesale on the
	// next open, so permanent fragmentation isn't a durability concern.
}
