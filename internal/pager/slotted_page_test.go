package pager

import (
	"bytes"
	"testing"
)

func newTestSlottedPage() *SlottedPage {
	buf := make([]byte, DefaultPageSize)
	return InitSlottedPage(buf, PageTypeLeaf, 1)
}

func TestSlottedPageInsertAndGetRecord(t *testing.T) {
	sp := newTestSlottedPage()
	i, err := sp.InsertRecord([]byte("row one"))
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if got := sp.GetRecord(i); !bytes.Equal(got, []byte("row one")) {
		t.Errorf("GetRecord = %q, want %q", got, "row one")
	}
	if sp.SlotCount() != 1 {
		t.Errorf("SlotCount = %d, want 1", sp.SlotCount())
	}
}

func TestSlottedPageInsertRejectsOversizedRecord(t *testing.T) {
	sp := newTestSlottedPage()
	big := make([]byte, DefaultPageSize)
	if _, err := sp.InsertRecord(big); err == nil {
		t.Fatal("expected an error inserting a record larger than the page")
	}
}

func TestSlottedPageDeleteMarksTombstone(t *testing.T) {
	sp := newTestSlottedPage()
	i, _ := sp.InsertRecord([]byte("x"))
	if err := sp.DeleteRecord(i); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if !sp.IsDeleted(i) {
		t.Error("slot should be a tombstone after DeleteRecord")
	}
	if sp.GetRecord(i) != nil {
		t.Error("GetRecord on a tombstoned slot should return nil")
	}
}

func TestSlottedPageInsertReusesTombstonedSlot(t *testing.T) {
	sp := newTestSlottedPage()
	i1, _ := sp.InsertRecord([]byte("a"))
	sp.InsertRecord([]byte("b"))
	sp.DeleteRecord(i1)

	before := sp.SlotCount()
	i3, _ := sp.InsertRecord([]byte("c"))
	if i3 != i1 {
		t.Errorf("expected the new record to reuse tombstoned slot %d, got %d", i1, i3)
	}
	if sp.SlotCount() != before {
		t.Errorf("SlotCount grew to %d reusing a tombstone, want %d", sp.SlotCount(), before)
	}
}

func TestSlottedPageUpdateInPlaceWhenSameOrSmaller(t *testing.T) {
	sp := newTestSlottedPage()
	i, _ := sp.InsertRecord([]byte("abcdef"))
	inPlace, err := sp.UpdateRecord(i, []byte("xyz"))
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if !inPlace {
		t.Error("a same-or-smaller update should happen in place")
	}
	if got := sp.GetRecord(i); !bytes.Equal(got, []byte("xyz")) {
		t.Errorf("GetRecord after update = %q, want %q", got, "xyz")
	}
}

func TestSlottedPageUpdateRelocatesWhenLarger(t *testing.T) {
	sp := newTestSlottedPage()
	i, _ := sp.InsertRecord([]byte("ab"))
	inPlace, err := sp.UpdateRecord(i, []byte("a much longer replacement value"))
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if inPlace {
		t.Error("a larger update should not happen in place")
	}
	if got := sp.GetRecord(i); !bytes.Equal(got, []byte("a much longer replacement value")) {
		t.Errorf("GetRecord after relocation = %q", got)
	}
}

func TestSlottedPageUpdateOutOfRange(t *testing.T) {
	sp := newTestSlottedPage()
	if _, err := sp.UpdateRecord(5, []byte("x")); err == nil {
		t.Fatal("expected an error updating an out-of-range slot")
	}
}

func TestSlottedPageCompactReclaimsTombstones(t *testing.T) {
	sp := newTestSlottedPage()
	i1, _ := sp.InsertRecord([]byte("keep-one"))
	i2, _ := sp.InsertRecord([]byte("delete-me"))
	i3, _ := sp.InsertRecord([]byte("keep-two"))
	sp.DeleteRecord(i2)

	freeBefore := sp.FreeSpace()
	sp.Compact()
	if sp.FreeSpace() <= freeBefore {
		t.Errorf("FreeSpace after Compact = %d, want more than %d", sp.FreeSpace(), freeBefore)
	}
	if got := sp.GetRecord(i1); !bytes.Equal(got, []byte("keep-one")) {
		t.Errorf("slot %d after compact = %q, want %q", i1, got, "keep-one")
	}
	if got := sp.GetRecord(i3); !bytes.Equal(got, []byte("keep-two")) {
		t.Errorf("slot %d after compact = %q, want %q", i3, got, "keep-two")
	}
	if sp.LiveRecords() != 2 {
		t.Errorf("LiveRecords = %d, want 2", sp.LiveRecords())
	}
}

func TestSlottedPageLiveRecords(t *testing.T) {
	sp := newTestSlottedPage()
	sp.InsertRecord([]byte("a"))
	i2, _ := sp.InsertRecord([]byte("b"))
	sp.InsertRecord([]byte("c"))
	sp.DeleteRecord(i2)

	if got := sp.LiveRecords(); got != 2 {
		t.Errorf("LiveRecords = %d, want 2", got)
	}
}
