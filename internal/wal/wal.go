// Package wal implements SharpCoreDB's write-ahead log: the only durability
// path in the engine. Every mutation is appended here before its page
// image is allowed to reach disk: WAL-before-data, strictly.
package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharpcoredb/sharpcoredb/internal/pager"
)

// Magic and version identify a SharpCoreDB WAL file.
const (
	Magic         = "SCWL"
	Version       = uint16(1)
	FileHeaderLen = 8 // Magic(4) + Version(2) + Reserved(2)

	// DefaultGroupWindow is the default commit-coalescing window.
	DefaultGroupWindow = 1 * time.Millisecond
)

// RecordType is the tagged-union discriminant for a WAL record.
type RecordType uint8

const (
	RecBeginTxn RecordType = iota + 1
	RecRowInsert
	RecRowUpdate
	RecRowDelete
	RecCommit
	RecCheckpoint
	RecRowInsertBatch
)

func (t RecordType) String() string {
	switch t {
	case RecBeginTxn:
		return "BEGIN"
	case RecRowInsert:
		return "ROW_INSERT"
	case RecRowUpdate:
		return "ROW_UPDATE"
	case RecRowDelete:
		return "ROW_DELETE"
	case RecCommit:
		return "COMMIT"
	case RecCheckpoint:
		return "CHECKPOINT"
	case RecRowInsertBatch:
		return "ROW_INSERT_BATCH"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Record is the in-memory representation of one WAL entry.
type Record struct {
	Type   RecordType
	TxID   pager.TxID
	LSN    pager.LSN
	Table  string
	PK     []byte // row-update, row-delete
	Before []byte // row-update (before-image, for undo)
	After  []byte // row-update (after-image) / row-insert row bytes
	// CheckpointLSN carries the oldest dirty-page LSN at checkpoint time,
	// the point recovery can safely replay forward from.
	CheckpointLSN pager.LSN

	// Batch carries every row in a multi-row insert that landed on a
	// single page, coalesced into one WAL record.
	Batch [][]byte
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// marshalPayload encodes the type-specific fields of rec.
func marshalPayload(rec *Record) []byte {
	var buf bytes.Buffer
	writeStr := func(s string) {
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(s)))
		buf.Write(l[:])
		buf.WriteString(s)
	}
	writeBytes := func(b []byte) {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
		buf.Write(l[:])
		buf.Write(b)
	}
	switch rec.Type {
	case RecBeginTxn, RecCommit:
		// no payload beyond the common header
	case RecRowInsert:
		writeStr(rec.Table)
		writeBytes(rec.After)
	case RecRowUpdate:
		writeStr(rec.Table)
		writeBytes(rec.PK)
		writeBytes(rec.Before)
		writeBytes(rec.After)
	case RecRowDelete:
		writeStr(rec.Table)
		writeBytes(rec.PK)
	case RecCheckpoint:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(rec.CheckpointLSN))
		buf.Write(b[:])
	case RecRowInsertBatch:
		writeStr(rec.Table)
		var cnt [4]byte
		binary.LittleEndian.PutUint32(cnt[:], uint32(len(rec.Batch)))
		buf.Write(cnt[:])
		for _, row := range rec.Batch {
			writeBytes(row)
		}
	}
	return buf.Bytes()
}

func unmarshalPayload(rt RecordType, data []byte) (*Record, error) {
	rec := &Record{Type: rt}
	r := bytes.NewReader(data)
	readStr := func() (string, error) {
		var l [2]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return "", err
		}
		n := binary.LittleEndian.Uint16(l[:])
		s := make([]byte, n)
		if _, err := io.ReadFull(r, s); err != nil {
			return "", err
		}
		return string(s), nil
	}
	readBytes := func() ([]byte, error) {
		var l [4]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(l[:])
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return b, nil
	}
	var err error
	switch rt {
	case RecBeginTxn, RecCommit:
	case RecRowInsert:
		if rec.Table, err = readStr(); err != nil {
			return nil, err
		}
		if rec.After, err = readBytes(); err != nil {
			return nil, err
		}
	case RecRowUpdate:
		if rec.Table, err = readStr(); err != nil {
			return nil, err
		}
		if rec.PK, err = readBytes(); err != nil {
			return nil, err
		}
		if rec.Before, err = readBytes(); err != nil {
			return nil, err
		}
		if rec.After, err = readBytes(); err != nil {
			return nil, err
		}
	case RecRowDelete:
		if rec.Table, err = readStr(); err != nil {
			return nil, err
		}
		if rec.PK, err = readBytes(); err != nil {
			return nil, err
		}
	case RecCheckpoint:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		rec.CheckpointLSN = pager.LSN(binary.LittleEndian.Uint64(b[:]))
	case RecRowInsertBatch:
		if rec.Table, err = readStr(); err != nil {
			return nil, err
		}
		var cnt [4]byte
		if _, err := io.ReadFull(r, cnt[:]); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(cnt[:])
		rec.Batch = make([][]byte, n)
		for i := range rec.Batch {
			if rec.Batch[i], err = readBytes(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("wal: unknown record type %d", rt)
	}
	return rec, nil
}

// wireRecord frames one record as: len(u32) | type(u8) | tid(u64) | lsn(u64) | payload | crc32(u32).
func wireRecord(rec *Record) []byte {
	payload := marshalPayload(rec)
	body := make([]byte, 1+8+8+len(payload))
	body[0] = byte(rec.Type)
	binary.LittleEndian.PutUint64(body[1:9], uint64(rec.TxID))
	binary.LittleEndian.PutUint64(body[9:17], uint64(rec.LSN))
	copy(body[17:], payload)

	crc := crc32.Checksum(body, crcTable)
	out := make([]byte, 4+len(body)+4)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	binary.LittleEndian.PutUint32(out[4+len(body):], crc)
	return out
}

// ErrTornTail indicates the WAL ends mid-record or fails a CRC check; the
// caller should truncate at the last good offset.
var ErrTornTail = errors.New("wal: torn tail")

// fsyncWaiter is how a committer blocks on a coalesced group-commit fsync.
type fsyncWaiter chan error

// WAL is the append-only, group-committing write-ahead log.
type WAL struct {
	mu          sync.Mutex
	f           *os.File
	path        string
	nextLSN     uint64
	writePos    int64
	groupWindow time.Duration

	fsyncMu     sync.Mutex
	fsyncing    bool
	subscribers []fsyncWaiter

	durableLSN atomic.Uint64
}

// Options configures a WAL.
type Options struct {
	GroupWindow time.Duration // default DefaultGroupWindow
}

// Open opens or creates a WAL file at path.
func Open(path string, opts Options) (*WAL, error) {
	window := opts.GroupWindow
	if window <= 0 {
		window = DefaultGroupWindow
	}
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	w := &WAL{f: f, path: path, nextLSN: 1, groupWindow: window}

	if !exists {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		w.writePos = FileHeaderLen
	} else {
		if err := w.validateHeader(); err != nil {
			f.Close()
			return nil, err
		}
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: seek end: %w", err)
		}
		w.writePos = end
	}
	return w, nil
}

func (w *WAL) writeHeader() error {
	hdr := make([]byte, FileHeaderLen)
	copy(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:6], Version)
	if _, err := w.f.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	return w.f.Sync()
}

func (w *WAL) validateHeader() error {
	hdr := make([]byte, FileHeaderLen)
	if _, err := w.f.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("wal: read header: %w", err)
	}
	if string(hdr[0:4]) != Magic {
		return fmt.Errorf("wal: bad magic")
	}
	ver := binary.LittleEndian.Uint16(hdr[4:6])
	if ver != Version {
		return fmt.Errorf("wal: unsupported version %d", ver)
	}
	return nil
}

// Append writes one record and assigns it a monotonic LSN. The write is
// buffered to the OS but not necessarily fsync'd — only Commit guarantees
// durability.
func (w *WAL) Append(rec *Record) (pager.LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := pager.LSN(w.nextLSN)
	w.nextLSN++
	rec.LSN = lsn

	data := wireRecord(rec)
	n, err := w.f.WriteAt(data, w.writePos)
	if err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	w.writePos += int64(n)
	return lsn, nil
}

// Commit appends a commit record for tid and blocks until it (and any
// other commits that enqueued within the coalescing window) have been
// fsync'd together as a single group commit.
func (w *WAL) Commit(tid pager.TxID) (pager.LSN, error) {
	lsn, err := w.Append(&Record{Type: RecCommit, TxID: tid})
	if err != nil {
		return 0, err
	}
	if err := w.groupFsync(); err != nil {
		return 0, err
	}
	return lsn, nil
}

// groupFsync implements the group-commit leader/follower pattern: the
// first caller in a window becomes the leader, sleeps out the coalescing
// window so concurrent commits can queue up, then performs a single fsync
// on behalf of every follower.
func (w *WAL) groupFsync() error {
	w.fsyncMu.Lock()
	if w.fsyncing {
		ch := make(fsyncWaiter, 1)
		w.subscribers = append(w.subscribers, ch)
		w.fsyncMu.Unlock()
		return <-ch
	}
	w.fsyncing = true
	w.fsyncMu.Unlock()

	time.Sleep(w.groupWindow)

	w.fsyncMu.Lock()
	subs := w.subscribers
	w.subscribers = nil
	w.fsyncing = false
	w.fsyncMu.Unlock()

	w.mu.Lock()
	highWater := w.nextLSN - 1
	w.mu.Unlock()

	err := w.f.Sync()
	if err == nil {
		w.durableLSN.Store(highWater)
	}
	for _, ch := range subs {
		ch <- err
		close(ch)
	}
	return err
}

// DurableLSN returns the highest LSN known to be fsync'd. It implements
// pager.Durable so the page cache can gate eviction of dirty pages on it.
func (w *WAL) DurableLSN() pager.LSN {
	return pager.LSN(w.durableLSN.Load())
}

// Checkpoint writes a checkpoint record carrying oldestDirtyLSN and fsyncs
// it immediately (independent of the group-commit window, since
// checkpoints are infrequent and latency-insensitive).
func (w *WAL) Checkpoint(oldestDirtyLSN pager.LSN) (pager.LSN, error) {
	lsn, err := w.Append(&Record{Type: RecCheckpoint, CheckpointLSN: oldestDirtyLSN})
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil {
		return 0, fmt.Errorf("wal: checkpoint sync: %w", err)
	}
	w.durableLSN.Store(uint64(lsn))
	return lsn, nil
}

// Truncate discards the WAL content before a checkpoint by recreating an
// empty, headered file. Callers must have already flushed every page
// dirtied before the checkpoint's LSN.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.writePos = FileHeaderLen
	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	return w.f.Close()
}

// Path returns the WAL file path.
func (w *WAL) Path() string { return w.path }
