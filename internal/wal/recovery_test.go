package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReplayAppliesEveryRecordInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.wal")
	w, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.Append(&Record{Type: RecBeginTxn, TxID: 1})
	w.Append(&Record{Type: RecRowInsert, TxID: 1, Table: "people", After: []byte("ada")})
	w.Append(&Record{Type: RecCommit, TxID: 1})
	w.Close()

	var types []RecordType
	validLen, maxLSN, err := Replay(path, func(rec *Record) error {
		types = append(types, rec.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(types) != 3 {
		t.Fatalf("Replay applied %d records, want 3", len(types))
	}
	if types[0] != RecBeginTxn || types[1] != RecRowInsert || types[2] != RecCommit {
		t.Errorf("Replay order = %v, want [BEGIN ROW_INSERT COMMIT]", types)
	}
	if maxLSN != 3 {
		t.Errorf("maxLSN = %d, want 3", maxLSN)
	}
	if validLen <= int64(FileHeaderLen) {
		t.Errorf("validLen = %d, want more than the header length", validLen)
	}
}

func TestReplayMissingFileIsNotAnError(t *testing.T) {
	validLen, maxLSN, err := Replay(filepath.Join(t.TempDir(), "missing.wal"), func(*Record) error { return nil })
	if err != nil {
		t.Fatalf("Replay on a missing file: %v", err)
	}
	if validLen != 0 || maxLSN != 0 {
		t.Errorf("Replay on a missing file = (%d, %d), want (0, 0)", validLen, maxLSN)
	}
}

func TestReplayStopsAtTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.wal")
	w, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.Append(&Record{Type: RecBeginTxn, TxID: 1})
	w.Append(&Record{Type: RecCommit, TxID: 1})
	w.Close()

	// Append a truncated, torn record directly past the end of the file.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	fi, _ := f.Stat()
	f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0x00}, fi.Size())
	f.Close()

	var count int
	validLen, _, err := Replay(path, func(*Record) error { count++; return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 2 {
		t.Errorf("Replay applied %d well-formed records, want 2", count)
	}
	if validLen != fi.Size() {
		t.Errorf("validLen = %d, want %d (the torn tail excluded)", validLen, fi.Size())
	}
}

func TestReplayPropagatesApplyError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.wal")
	w, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.Append(&Record{Type: RecBeginTxn, TxID: 1})
	w.Close()

	wantErr := os.ErrInvalid
	_, _, err = Replay(path, func(*Record) error { return wantErr })
	if err != wantErr {
		t.Errorf("Replay returned %v, want %v", err, wantErr)
	}
}

func TestTruncateAtClipsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.wal")
	w, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.Append(&Record{Type: RecBeginTxn, TxID: 1})
	validLen, _, _ := Replay(path, func(*Record) error { return nil })

	if err := w.TruncateAt(validLen); err != nil {
		t.Fatalf("TruncateAt: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != validLen {
		t.Errorf("file size after TruncateAt = %d, want %d", fi.Size(), validLen)
	}
	w.Close()
}
