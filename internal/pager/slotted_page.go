package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Slotted Page
// ───────────────────────────────────────────────────────────────────────────
//
// A slotted page stores variable-length row records. Layout:
//
//   [0..31]               Common PageHeader
//   [32..35]              SlotCount (uint16) + FreeSpaceEnd (uint16)
//   [36..36+4*SlotCount]  Slot directory (4 bytes per slot)
//   ... free space ...
//   [FreeSpaceEnd..PageSize]  Record data, growing downward from the tail
//
// Slot entry (4 bytes): Offset (uint16), Length (uint16). A slot with both
// zero is a tombstone left by a delete or a grow-in-place update.
//
// Record bytes grow downward from the tail of the page; the slot
// directory grows forward from the header.

const (
	slottedCountOff = PageHeaderSize     // 32
	slottedHdrSize  = 4                  // SlotCount + FreeSpaceEnd
	slottedDirOff   = slottedCountOff + slottedHdrSize // 36
	slotEntrySize   = 4
)

// SlottedPage wraps a raw page buffer and provides record-level operations.
type SlottedPage struct {
	buf      []byte
	pageSize int
}

// SlotEntry describes one slot in the directory.
type SlotEntry struct {
	Offset uint16
	Length uint16
}

// WrapSlottedPage wraps an existing page buffer.
func WrapSlottedPage(buf []byte) *SlottedPage {
	return &SlottedPage{buf: buf, pageSize: len(buf)}
}

// InitSlottedPage initializes a page buffer as an empty slotted page.
func InitSlottedPage(buf []byte, pt PageType, id PageID) *SlottedPage {
	h := &PageHeader{Type: pt, ID: id, FreeOffset: uint16(len(buf))}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[slottedCountOff:], 0)
	binary.LittleEndian.PutUint16(buf[slottedCountOff+2:], uint16(len(buf)))
	return WrapSlottedPage(buf)
}

func (sp *SlottedPage) SlotCount() int {
	return int(binary.LittleEndian.Uint16(sp.buf[slottedCountOff:]))
}

func (sp *SlottedPage) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(sp.buf[slottedCountOff:], uint16(n))
	binary.LittleEndian.PutUint16(sp.buf[hdrOffRowCount:], uint16(n))
}

// FreeSpaceEnd is the byte offset where the next record will be written.
func (sp *SlottedPage) FreeSpaceEnd() int {
	return int(binary.LittleEndian.Uint16(sp.buf[slottedCountOff+2:]))
}

func (sp *SlottedPage) setFreeSpaceEnd(off int) {
	binary.LittleEndian.PutUint16(sp.buf[slottedCountOff+2:], uint16(off))
	binary.LittleEndian.PutUint16(sp.buf[hdrOffFreeOffset:], uint16(off))
}

func (sp *SlottedPage) slotDirEnd() int {
	return slottedDirOff + sp.SlotCount()*slotEntrySize
}

// FreeSpace returns bytes available for one more record plus its slot.
func (sp *SlottedPage) FreeSpace() int {
	return sp.FreeSpaceEnd() - sp.slotDirEnd() - slotEntrySize
}

func (sp *SlottedPage) GetSlot(i int) SlotEntry {
	off := slottedDirOff + i*slotEntrySize
	return SlotEntry{
		Offset: binary.LittleEndian.Uint16(sp.buf[off:]),
		Length: binary.LittleEndian.Uint16(sp.buf[off+2:]),
	}
}

func (sp *SlottedPage) setSlot(i int, e SlotEntry) {
	off := slottedDirOff + i*slotEntrySize
	binary.LittleEndian.PutUint16(sp.buf[off:], e.Offset)
	binary.LittleEndian.PutUint16(sp.buf[off+2:], e.Length)
}

// IsDeleted returns true if slot i is a tombstone.
func (sp *SlottedPage) IsDeleted(i int) bool {
	e := sp.GetSlot(i)
	return e.Offset == 0 && e.Length == 0
}

// GetRecord returns the raw bytes of the record at slot i, or nil if it is
// a tombstone.
func (sp *SlottedPage) GetRecord(i int) []byte {
	e := sp.GetSlot(i)
	if e.Offset == 0 && e.Length == 0 {
		return nil
	}
	return sp.buf[e.Offset : e.Offset+e.Length]
}

// InsertRecord appends a new record, reusing a tombstoned slot if one
// exists. Returns the slot index.
func (sp *SlottedPage) InsertRecord(data []byte) (int, error) {
	needed := len(data)
	if sp.FreeSpace() < needed {
		return -1, fmt.Errorf("pager: page full: need %d bytes, have %d", needed, sp.FreeSpace())
	}
	newEnd := sp.FreeSpaceEnd() - needed
	copy(sp.buf[newEnd:], data)
	sp.setFreeSpaceEnd(newEnd)

	sc := sp.SlotCount()
	for i := 0; i < sc; i++ {
		if sp.IsDeleted(i) {
			sp.setSlot(i, SlotEntry{Offset: uint16(newEnd), Length: uint16(needed)})
			return i, nil
		}
	}
	sp.setSlot(sc, SlotEntry{Offset: uint16(newEnd), Length: uint16(needed)})
	sp.setSlotCount(sc + 1)
	return sc, nil
}

// DeleteRecord marks slot i as a tombstone.
func (sp *SlottedPage) DeleteRecord(i int) error {
	if i < 0 || i >= sp.SlotCount() {
		return fmt.Errorf("pager: slot %d out of range [0..%d)", i, sp.SlotCount())
	}
	sp.setSlot(i, SlotEntry{Offset: 0, Length: 0})
	return nil
}

// UpdateRecord replaces the record at slot i in place if it still fits, or
// tombstones it and appends a fresh copy otherwise. Returns whether the
// update happened in place.
func (sp *SlottedPage) UpdateRecord(i int, data []byte) (inPlace bool, err error) {
	if i < 0 || i >= sp.SlotCount() {
		return false, fmt.Errorf("pager: slot %d out of range [0..%d)", i, sp.SlotCount())
	}
	old := sp.GetSlot(i)
	if int(old.Length) >= len(data) {
		copy(sp.buf[old.Offset:], data)
		for j := int(old.Offset) + len(data); j < int(old.Offset+old.Length); j++ {
			sp.buf[j] = 0
		}
		sp.setSlot(i, SlotEntry{Offset: old.Offset, Length: uint16(len(data))})
		return true, nil
	}
	sp.setSlot(i, SlotEntry{Offset: 0, Length: 0})
	needed := len(data)
	if sp.FreeSpace()+slotEntrySize < needed {
		return false, fmt.Errorf("pager: page full on update: need %d bytes", needed)
	}
	newEnd := sp.FreeSpaceEnd() - needed
	copy(sp.buf[newEnd:], data)
	sp.setFreeSpaceEnd(newEnd)
	sp.setSlot(i, SlotEntry{Offset: uint16(newEnd), Length: uint16(needed)})
	return false, nil
}

// Compact reorganizes records to reclaim space left by tombstones,
// preserving slot indices; tombstones are only reclaimed at compaction.
func (sp *SlottedPage) Compact() {
	sc := sp.SlotCount()
	type rec struct {
		slot int
		data []byte
	}
	var live []rec
	for i := 0; i < sc; i++ {
		if !sp.IsDeleted(i) {
			live = append(live, rec{slot: i, data: append([]byte{}, sp.GetRecord(i)...)})
		}
	}
	sp.setFreeSpaceEnd(sp.pageSize)
	for _, r := range live {
		newEnd := sp.FreeSpaceEnd() - len(r.data)
		copy(sp.buf[newEnd:], r.data)
		sp.setFreeSpaceEnd(newEnd)
		sp.setSlot(r.slot, SlotEntry{Offset: uint16(newEnd), Length: uint16(len(r.data))})
	}
}

// LiveRecords returns the count of non-tombstoned records.
func (sp *SlottedPage) LiveRecords() int {
	n := 0
	for i, sc := 0, sp.SlotCount(); i < sc; i++ {
		if !sp.IsDeleted(i) {
			n++
		}
	}
	return n
}

// Bytes returns the underlying page buffer.
func (sp *SlottedPage) Bytes() []byte { return sp.buf }
