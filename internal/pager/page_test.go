package pager

import "testing"

func TestPageHeaderRoundTrip(t *testing.T) {
	h := &PageHeader{ID: 7, Type: PageTypeLeaf, RowCount: 3, FreeOffset: 4096, LSN: 99}
	buf := make([]byte, PageHeaderSize)
	MarshalHeader(h, buf)

	got := UnmarshalHeader(buf)
	if got.ID != h.ID || got.Type != h.Type || got.RowCount != h.RowCount ||
		got.FreeOffset != h.FreeOffset || got.LSN != h.LSN {
		t.Errorf("UnmarshalHeader = %+v, want %+v", got, h)
	}
}

func TestSetGetLSN(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeLeaf, 1)
	SetLSN(buf, 42)
	if got := GetLSN(buf); got != 42 {
		t.Errorf("GetLSN = %d, want 42", got)
	}
}

func TestPageIDOf(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeLeaf, 5)
	if got := PageIDOf(buf); got != 5 {
		t.Errorf("PageIDOf = %d, want 5", got)
	}
}

func TestPageCRCRoundTrip(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeLeaf, 1)
	copy(buf[PageHeaderSize:], []byte("some row bytes"))
	SetPageCRC(buf)
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("VerifyPageCRC: %v", err)
	}
}

func TestPageCRCDetectsCorruption(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeLeaf, 1)
	SetPageCRC(buf)
	buf[PageHeaderSize] ^= 0xFF
	if err := VerifyPageCRC(buf); err == nil {
		t.Fatal("expected VerifyPageCRC to detect the corrupted byte")
	}
}

func TestPageTypeString(t *testing.T) {
	if PageTypeLeaf.String() != "Leaf" {
		t.Errorf("PageTypeLeaf.String() = %q, want Leaf", PageTypeLeaf.String())
	}
	if got := PageType(0xEE).String(); got == "" {
		t.Error("unknown PageType should still stringify to something non-empty")
	}
}
