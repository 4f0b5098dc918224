package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Meta page — page 0
// ───────────────────────────────────────────────────────────────────────────
//
// Layout (relative to the common 32-byte PageHeader):
//
//  Offset  Size  Field
//  ──────  ────  ───────────────────
//  32      8     FeatureFlags     uint64 LE
//  40      4     CatalogRoot      uint32 LE (schema dictionary page)
//  44      4     FreeListRoot     uint32 LE
//  48      8     CheckpointLSN    uint64 LE
//  56      8     NextTxID         uint64 LE
//  64      4     NextPageID       uint32 LE
//  68      4     BitmapLen        uint32 LE (byte length of the bitmap)
//  72      ...   The encoded free-space bitmap, stored inline in this page

const (
	metaFeatureFlagsOff = PageHeaderSize    // 32
	metaCatalogRootOff  = metaFeatureFlagsOff + 8 // 40
	metaFreeListRootOff = metaCatalogRootOff + 4  // 44
	metaCheckpointLSN   = metaFreeListRootOff + 4 // 48
	metaNextTxIDOff     = metaCheckpointLSN + 8    // 56
	metaNextPageIDOff   = metaNextTxIDOff + 8      // 64
	metaBitmapCountOff  = metaNextPageIDOff + 4    // 68
	metaBitmapDataOff   = metaBitmapCountOff + 4   // 72
)

// Meta holds the parsed contents of page 0.
type Meta struct {
	FeatureFlags  uint64
	CatalogRoot   PageID
	FreeListRoot  PageID
	CheckpointLSN LSN
	NextTxID      TxID
	NextPageID    PageID
	Bitmap        []byte
}

// NewMeta returns a fresh Meta for a new database.
func NewMeta() *Meta {
	return &Meta{NextTxID: 1, NextPageID: 1}
}

// MarshalMeta serializes m into a full page buffer.
func MarshalMeta(m *Meta, pageSize int) []byte {
	buf := NewPage(pageSize, PageTypeMeta, 0)
	binary.LittleEndian.PutUint64(buf[metaFeatureFlagsOff:], m.FeatureFlags)
	binary.LittleEndian.PutUint32(buf[metaCatalogRootOff:], uint32(m.CatalogRoot))
	binary.LittleEndian.PutUint32(buf[metaFreeListRootOff:], uint32(m.FreeListRoot))
	binary.LittleEndian.PutUint64(buf[metaCheckpointLSN:], uint64(m.CheckpointLSN))
	binary.LittleEndian.PutUint64(buf[metaNextTxIDOff:], uint64(m.NextTxID))
	binary.LittleEndian.PutUint32(buf[metaNextPageIDOff:], uint32(m.NextPageID))
	binary.LittleEndian.PutUint32(buf[metaBitmapCountOff:], uint32(len(m.Bitmap)))
	if metaBitmapDataOff+len(m.Bitmap) <= pageSize {
		copy(buf[metaBitmapDataOff:], m.Bitmap)
	}
	SetPageCRC(buf)
	return buf
}

// ReadMeta reads and decodes page 0.
func (p *Pager) ReadMeta() (*Meta, error) {
	buf, err := p.ReadPage(0)
	if err != nil {
		return nil, err
	}
	return UnmarshalMeta(buf)
}

// WriteMeta encodes m and writes it to page 0. Callers durably persist it
// by following up with Sync, the same as any other dirty page.
func (p *Pager) WriteMeta(m *Meta) error {
	return p.WritePage(0, MarshalMeta(m, p.pageSize))
}

// UnmarshalMeta decodes page 0.
func UnmarshalMeta(buf []byte) (*Meta, error) {
	if len(buf) < metaBitmapDataOff {
		return nil, fmt.Errorf("pager: meta page too small: %d bytes", len(buf))
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	m := &Meta{
		FeatureFlags:  binary.LittleEndian.Uint64(buf[metaFeatureFlagsOff:]),
		CatalogRoot:   PageID(binary.LittleEndian.Uint32(buf[metaCatalogRootOff:])),
		FreeListRoot:  PageID(binary.LittleEndian.Uint32(buf[metaFreeListRootOff:])),
		CheckpointLSN: LSN(binary.LittleEndian.Uint64(buf[metaCheckpointLSN:])),
		NextTxID:      TxID(binary.LittleEndian.Uint64(buf[metaNextTxIDOff:])),
		NextPageID:    PageID(binary.LittleEndian.Uint32(buf[metaNextPageIDOff:])),
	}
	n := int(binary.LittleEndian.Uint32(buf[metaBitmapCountOff:]))
	if n > 0 && metaBitmapDataOff+n <= len(buf) {
		m.Bitmap = append([]byte{}, buf[metaBitmapDataOff:metaBitmapDataOff+n]...)
	}
	return m, nil
}
