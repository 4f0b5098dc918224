package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sharpcoredb/sharpcoredb/internal/pager"
)

func newTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(filepath.Join(t.TempDir(), "data.wal"), Options{GroupWindow: time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestAppendAssignsMonotonicLSN(t *testing.T) {
	w := newTestWAL(t)
	l1, err := w.Append(&Record{Type: RecBeginTxn, TxID: 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	l2, err := w.Append(&Record{Type: RecRowInsert, TxID: 1, Table: "t", After: []byte("row")})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if l2 <= l1 {
		t.Errorf("second Append LSN %d should exceed first %d", l2, l1)
	}
}

func TestCommitMakesDurableLSNAdvance(t *testing.T) {
	w := newTestWAL(t)
	w.Append(&Record{Type: RecBeginTxn, TxID: 1})
	lsn, err := w.Commit(1)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := w.DurableLSN(); got < lsn {
		t.Errorf("DurableLSN = %d, want >= commit LSN %d", got, lsn)
	}
}

func TestConcurrentCommitsGroupFsync(t *testing.T) {
	w := newTestWAL(t)
	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(tid int) {
			w.Append(&Record{Type: RecBeginTxn, TxID: pager.TxID(tid)})
			_, err := w.Commit(pager.TxID(tid))
			errs <- err
		}(i + 1)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Commit: %v", err)
		}
	}
}

func TestCheckpointAdvancesDurableLSN(t *testing.T) {
	w := newTestWAL(t)
	w.Append(&Record{Type: RecBeginTxn, TxID: 1})
	lsn, err := w.Checkpoint(0)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if got := w.DurableLSN(); got != lsn {
		t.Errorf("DurableLSN = %d, want %d after Checkpoint", got, lsn)
	}
}

func TestTruncateResetsFileToHeaderOnly(t *testing.T) {
	w := newTestWAL(t)
	w.Append(&Record{Type: RecBeginTxn, TxID: 1})
	w.Commit(1)
	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if fi, err := os.Stat(w.Path()); err != nil {
		t.Fatalf("Stat: %v", err)
	} else if fi.Size() != FileHeaderLen {
		t.Errorf("file size after Truncate = %d, want %d (header only)", fi.Size(), FileHeaderLen)
	}

	// A record can still be appended after Truncate.
	lsn, err := w.Append(&Record{Type: RecBeginTxn, TxID: 2})
	if err != nil {
		t.Fatalf("Append after Truncate: %v", err)
	}
	if lsn == 0 {
		t.Error("expected a valid LSN after Truncate")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.wal")
	w, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.Close()

	// Corrupt the magic bytes directly on disk.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("reopen for corruption: %v", err)
	}
	f.WriteAt([]byte("XXXX"), 0)
	f.Close()

	if _, err := Open(path, Options{}); err == nil {
		t.Error("expected an error opening a WAL with a corrupted magic")
	}
}

func TestRecordTypeString(t *testing.T) {
	if RecCommit.String() != "COMMIT" {
		t.Errorf("RecCommit.String() = %q, want COMMIT", RecCommit.String())
	}
	if got := RecordType(200).String(); got == "" {
		t.Error("unknown RecordType should still stringify to something non-empty")
	}
}
