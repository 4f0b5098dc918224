package pager

import (
	"bytes"
	"testing"
)

func TestMetaMarshalUnmarshalRoundTrip(t *testing.T) {
	m := NewMeta()
	m.FeatureFlags = 0xABCD
	m.CatalogRoot = 3
	m.FreeListRoot = 9
	m.CheckpointLSN = 123
	m.NextTxID = 7
	m.NextPageID = 42
	m.Bitmap = []byte{0xAA, 0xBB, 0xCC}

	buf := MarshalMeta(m, DefaultPageSize)
	got, err := UnmarshalMeta(buf)
	if err != nil {
		t.Fatalf("UnmarshalMeta: %v", err)
	}
	if got.FeatureFlags != m.FeatureFlags || got.CatalogRoot != m.CatalogRoot ||
		got.FreeListRoot != m.FreeListRoot || got.CheckpointLSN != m.CheckpointLSN ||
		got.NextTxID != m.NextTxID || got.NextPageID != m.NextPageID ||
		!bytes.Equal(got.Bitmap, m.Bitmap) {
		t.Errorf("UnmarshalMeta = %+v, want %+v", *got, *m)
	}
}

func TestUnmarshalMetaDetectsCorruption(t *testing.T) {
	buf := MarshalMeta(NewMeta(), DefaultPageSize)
	buf[PageHeaderSize] ^= 0xFF
	if _, err := UnmarshalMeta(buf); err == nil {
		t.Fatal("expected a CRC error for a corrupted meta page")
	}
}

func TestUnmarshalMetaTooSmall(t *testing.T) {
	if _, err := UnmarshalMeta(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a too-small buffer")
	}
}

func TestNewMetaDefaults(t *testing.T) {
	m := NewMeta()
	if m.NextTxID != 1 || m.NextPageID != 1 {
		t.Errorf("NewMeta = %+v, want NextTxID=1 NextPageID=1", m)
	}
}
