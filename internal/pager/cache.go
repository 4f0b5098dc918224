package pager

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// flushConcurrency bounds how many dirty frames FlushAll may write out at
// once. CRC computation and the positioned write each frame does can
// overlap across frames even though the Pager itself serializes the
// actual WriteAt calls.
const flushConcurrency = 8

// frame is one slot of the CLOCK ring: a cached page plus its replacement
// metadata. Ref-bit and dirty-bit are colocated with the page so that a
// single short critical section can inspect and mutate both.
type frame struct {
	id       PageID
	buf      []byte
	dirty    bool
	ref      bool
	pinCount int
	lsn      LSN // LSN of the most recent mutation applied to this frame
}

// Durable reports the highest LSN known to be fsync'd to the WAL. The
// cache consults it before flushing a dirty page: flushing an unpersisted
// mutation would violate the WAL-before-data invariant.
type Durable interface {
	DurableLSN() LSN
}

// Cache is a fixed-capacity pool of page buffers with CLOCK (second-chance)
// replacement It is the only path through which callers
// touch page bytes; the Pager underneath is reached only on a cache miss
// or during flush.
type Cache struct {
	mu       sync.Mutex
	pager    *Pager
	durable  Durable
	capacity int

	ring  []*frame // fixed-size circular buffer, nil entries are empty slots
	index map[PageID]int
	hand  int
}

// NewCache creates a CLOCK-replacement cache of the given capacity (number
// of pages) backed by p. durable supplies the current fsync'd LSN boundary
// used to gate eviction of dirty pages.
func NewCache(p *Pager, capacity int, durable Durable) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache{
		pager:    p,
		durable:  durable,
		capacity: capacity,
		ring:     make([]*frame, capacity),
		index:    make(map[PageID]int, capacity),
	}
}

// Pin returns the buffer for id, loading it from the pager on a miss. The
// reference bit is set (or re-set) on every pin. The caller MUST call
// Unpin exactly once per successful Pin.
func (c *Cache) Pin(id PageID) ([]byte, error) {
	c.mu.Lock()
	if slot, ok := c.index[id]; ok {
		f := c.ring[slot]
		f.ref = true
		f.pinCount++
		c.mu.Unlock()
		return f.buf, nil
	}
	c.mu.Unlock()

	buf, err := c.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have loaded it while we read from disk.
	if slot, ok := c.index[id]; ok {
		f := c.ring[slot]
		f.ref = true
		f.pinCount++
		return f.buf, nil
	}
	slot, err := c.findVictimLocked()
	if err != nil {
		return nil, err
	}
	f := &frame{id: id, buf: buf, ref: true, pinCount: 1, lsn: GetLSN(buf)}
	c.ring[slot] = f
	c.index[id] = slot
	return f.buf, nil
}

// PinNew registers a freshly allocated, already-initialized page buffer in
// the cache without reading it from the pager (used right after
// AllocatePage). It is pinned once on return.
func (c *Cache) PinNew(id PageID, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[id]; ok {
		return fmt.Errorf("pager: page %d already cached", id)
	}
	slot, err := c.findVictimLocked()
	if err != nil {
		return err
	}
	c.ring[slot] = &frame{id: id, buf: buf, ref: true, pinCount: 1, dirty: true, lsn: GetLSN(buf)}
	c.index[id] = slot
	return nil
}

// findVictimLocked runs the CLOCK sweep. Caller holds c.mu.
func (c *Cache) findVictimLocked() (int, error) {
	// First preference: an empty slot.
	for i, f := range c.ring {
		if f == nil {
			return i, nil
		}
	}

	start := c.hand
	for i := 0; i < 2*c.capacity; i++ {
		slot := c.hand
		c.hand = (c.hand + 1) % c.capacity
		f := c.ring[slot]
		if f.pinCount > 0 {
			continue
		}
		if f.ref {
			f.ref = false
			continue
		}
		// Candidate victim: unpinned, reference bit clear.
		if f.dirty {
			if c.durable == nil || f.lsn <= c.durable.DurableLSN() {
				if err := c.flushFrameLocked(f); err != nil {
					return 0, err
				}
			} else {
				// WAL hasn't caught up yet — skip this round, keep sweeping.
				continue
			}
		}
		delete(c.index, f.id)
		c.ring[slot] = nil
		return slot, nil
	}
	_ = start
	return 0, fmt.Errorf("%w: no unpinned victim after full sweep", ErrCacheFull)
}

// Unpin decrements the pin count for id and ORs in the dirty bit.
func (c *Cache) Unpin(id PageID, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.index[id]
	if !ok {
		return
	}
	f := c.ring[slot]
	if dirty {
		f.dirty = true
		f.lsn = GetLSN(f.buf)
	}
	if f.pinCount > 0 {
		f.pinCount--
	}
}

// MarkDirty updates a cached page's LSN after an in-place mutation (the
// caller has already written new bytes into the buffer returned by Pin).
func (c *Cache) MarkDirty(id PageID, lsn LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok := c.index[id]; ok {
		c.ring[slot].dirty = true
		c.ring[slot].lsn = lsn
		SetLSN(c.ring[slot].buf, lsn)
	}
}

func (c *Cache) flushFrameLocked(f *frame) error {
	SetPageCRC(f.buf)
	if err := c.pager.WritePage(f.id, f.buf); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// FlushAll writes every dirty page whose LSN has already been made durable
// by the WAL, then syncs the underlying file. Dirty
// pages whose WAL record has not yet been fsync'd are left in place.
// FlushAll does not fsync the WAL itself; the facade's writes commit their
// transaction, which group-fsyncs the WAL, before returning.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	bound := LSN(^uint64(0))
	if c.durable != nil {
		bound = c.durable.DurableLSN()
	}

	sem := semaphore.NewWeighted(flushConcurrency)
	g, ctx := errgroup.WithContext(context.Background())
	for _, f := range c.ring {
		if f == nil || !f.dirty {
			continue
		}
		if f.lsn > bound {
			continue
		}
		f := f
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return c.flushFrameLocked(f)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return c.pager.Sync()
}

// Stats reports a coarse snapshot for diagnostics/tests.
type Stats struct {
	Capacity int
	Resident int
	Dirty    int
	Pinned   int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Capacity: c.capacity}
	for _, f := range c.ring {
		if f == nil {
			continue
		}
		s.Resident++
		if f.dirty {
			s.Dirty++
		}
		if f.pinCount > 0 {
			s.Pinned++
		}
	}
	return s
}
