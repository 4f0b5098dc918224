package pager

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesNewFileWithMetaPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	p, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	buf, err := p.ReadPage(0)
	if err != nil {
		t.Fatalf("ReadPage(0): %v", err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("meta page CRC: %v", err)
	}
}

func TestOpenRejectsBadPageSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if _, err := Open(path, Options{PageSize: 1000}); err == nil {
		t.Error("expected an error for a non-power-of-two page size")
	}
}

func TestWriteThenReadPageRoundTrip(t *testing.T) {
	p := newTestPager(t)
	id := p.AllocatePage()
	buf := NewPage(p.PageSize(), PageTypeLeaf, id)
	copy(buf[PageHeaderSize:], []byte("hello"))
	SetPageCRC(buf)

	if err := p.WritePage(id, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got, err := p.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+5]) != "hello" {
		t.Errorf("round-tripped page body = %q, want %q", got[PageHeaderSize:PageHeaderSize+5], "hello")
	}
}

func TestAllocatePageMonotonic(t *testing.T) {
	p := newTestPager(t)
	a := p.AllocatePage()
	b := p.AllocatePage()
	if b <= a {
		t.Errorf("AllocatePage returned %d then %d, want strictly increasing", a, b)
	}
}

func TestReopenPreservesAllocatedPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	p1, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := p1.AllocatePage()
	buf := NewPage(p1.PageSize(), PageTypeLeaf, id)
	SetPageCRC(buf)
	p1.WritePage(id, buf)
	if err := p1.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	p1.Close()

	p2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	if next := p2.AllocatePage(); next <= id {
		t.Errorf("AllocatePage after reopen returned %d, want something greater than %d", next, id)
	}
}

func TestSizeReflectsAllocations(t *testing.T) {
	p := newTestPager(t)
	before := p.Size()
	p.AllocatePage()
	p.AllocatePage()
	if got := p.Size(); got != before+2 {
		t.Errorf("Size = %d, want %d", got, before+2)
	}
}
