package pager

import (
	"path/filepath"
	"testing"
)

// fakeDurable lets tests control the durable-LSN boundary the cache gates
// dirty-page eviction and flush on, without a real WAL.
type fakeDurable struct{ lsn LSN }

func (d *fakeDurable) DurableLSN() LSN { return d.lsn }

func newTestPager(t *testing.T) *Pager {
	t.Helper()
	p, err := Open(filepath.Join(t.TempDir(), "data"), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestCachePinLoadsFromPagerOnMiss(t *testing.T) {
	p := newTestPager(t)
	id := p.AllocatePage()
	buf := NewPage(p.PageSize(), PageTypeLeaf, id)
	SetPageCRC(buf)
	if err := p.WritePage(id, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	c := NewCache(p, 4, &fakeDurable{})
	got, err := c.Pin(id)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if PageIDOf(got) != id {
		t.Errorf("Pin returned page %d, want %d", PageIDOf(got), id)
	}
	c.Unpin(id, false)
}

func TestCachePinSharesFrameAcrossCalls(t *testing.T) {
	p := newTestPager(t)
	id := p.AllocatePage()
	buf := NewPage(p.PageSize(), PageTypeLeaf, id)
	SetPageCRC(buf)
	p.WritePage(id, buf)

	c := NewCache(p, 4, &fakeDurable{})
	b1, _ := c.Pin(id)
	b2, _ := c.Pin(id)
	if &b1[0] != &b2[0] {
		t.Error("two Pin calls for the same page should return the same backing buffer")
	}
	c.Unpin(id, false)
	c.Unpin(id, false)
}

func TestCachePinNewRejectsDuplicate(t *testing.T) {
	p := newTestPager(t)
	id := p.AllocatePage()
	c := NewCache(p, 4, &fakeDurable{})
	buf := NewPage(p.PageSize(), PageTypeLeaf, id)
	if err := c.PinNew(id, buf); err != nil {
		t.Fatalf("PinNew: %v", err)
	}
	if err := c.PinNew(id, buf); err == nil {
		t.Error("expected an error registering the same page ID twice")
	}
}

func TestCacheFindVictimSkipsPinnedFrames(t *testing.T) {
	p := newTestPager(t)
	c := NewCache(p, 2, &fakeDurable{})

	id1 := p.AllocatePage()
	c.PinNew(id1, NewPage(p.PageSize(), PageTypeLeaf, id1))
	id2 := p.AllocatePage()
	c.PinNew(id2, NewPage(p.PageSize(), PageTypeLeaf, id2))
	// Both frames are pinned and the cache is at capacity; a third Pin must
	// fail rather than evict a pinned frame.
	id3 := p.AllocatePage()
	buf3 := NewPage(p.PageSize(), PageTypeLeaf, id3)
	SetPageCRC(buf3)
	p.WritePage(id3, buf3)
	if _, err := c.Pin(id3); err == nil {
		t.Error("expected ErrCacheFull when every frame is pinned")
	}
}

func TestCacheUnpinClearsPinAndSetsDirty(t *testing.T) {
	p := newTestPager(t)
	c := NewCache(p, 4, &fakeDurable{})
	id := p.AllocatePage()
	c.PinNew(id, NewPage(p.PageSize(), PageTypeLeaf, id))
	c.Unpin(id, true)

	st := c.Stats()
	if st.Pinned != 0 {
		t.Errorf("Pinned = %d, want 0 after Unpin", st.Pinned)
	}
	if st.Dirty != 1 {
		t.Errorf("Dirty = %d, want 1 after a dirty Unpin", st.Dirty)
	}
}

func TestCacheFlushAllRespectsDurableBoundary(t *testing.T) {
	p := newTestPager(t)
	durable := &fakeDurable{lsn: 0}
	c := NewCache(p, 4, durable)

	id := p.AllocatePage()
	buf := NewPage(p.PageSize(), PageTypeLeaf, id)
	c.PinNew(id, buf)
	c.MarkDirty(id, 5)
	c.Unpin(id, true)

	if err := c.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if c.Stats().Dirty != 1 {
		t.Error("a page whose LSN exceeds the durable boundary must not be flushed")
	}

	durable.lsn = 5
	if err := c.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if c.Stats().Dirty != 0 {
		t.Error("the page should be flushed once its LSN is durable")
	}
}

func TestCacheFlushAllBoundedConcurrency(t *testing.T) {
	p := newTestPager(t)
	durable := &fakeDurable{lsn: 1}
	c := NewCache(p, 32, durable)

	for i := 0; i < 20; i++ {
		id := p.AllocatePage()
		buf := NewPage(p.PageSize(), PageTypeLeaf, id)
		if err := c.PinNew(id, buf); err != nil {
			t.Fatalf("PinNew: %v", err)
		}
		c.MarkDirty(id, 1)
		c.Unpin(id, true)
	}
	if err := c.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if st := c.Stats(); st.Dirty != 0 {
		t.Errorf("Dirty = %d, want 0 after FlushAll", st.Dirty)
	}
}

func TestCacheStatsCapacity(t *testing.T) {
	p := newTestPager(t)
	c := NewCache(p, 7, &fakeDurable{})
	if got := c.Stats().Capacity; got != 7 {
		t.Errorf("Capacity = %d, want 7", got)
	}
}
