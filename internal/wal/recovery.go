package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/sharpcoredb/sharpcoredb/internal/pager"
)

// ApplyFunc is invoked once per well-formed record found during replay.
type ApplyFunc func(rec *Record) error

// Replay scans path forward from the start of the log (checkpoints are
// handled by Truncate, so after a checkpoint the log already begins at the
// next record) applying each record via apply, stopping at the first torn
// or corrupt record. It returns the number of bytes of well-formed log
// consumed and the highest LSN observed; Replay itself does not modify the
// file, and the caller clips the torn tail with TruncateAt(validLen).
func Replay(path string, apply ApplyFunc) (validLen int64, maxLSN pager.LSN, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer f.Close()

	hdr := make([]byte, FileHeaderLen)
	n, err := f.ReadAt(hdr, 0)
	if err != nil && err != io.EOF {
		return 0, 0, err
	}
	if n < FileHeaderLen {
		return 0, 0, nil
	}
	pos := int64(FileHeaderLen)

	for {
		rec, recLen, ok := readOneRecord(f, pos)
		if !ok {
			break
		}
		if err := apply(rec); err != nil {
			return pos, maxLSN, err
		}
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		pos += recLen
	}
	return pos, maxLSN, nil
}

// readOneRecord reads and validates one framed record at offset pos.
// Returns ok=false on EOF, a short read, or a CRC mismatch — any of which
// marks the tail as torn and stops replay there.
func readOneRecord(f *os.File, pos int64) (*Record, int64, bool) {
	var lenBuf [4]byte
	if _, err := f.ReadAt(lenBuf[:], pos); err != nil {
		return nil, 0, false
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if bodyLen == 0 || bodyLen > 64<<20 {
		return nil, 0, false
	}
	total := int64(4) + int64(bodyLen) + 4
	buf := make([]byte, total)
	if _, err := f.ReadAt(buf, pos); err != nil {
		return nil, 0, false
	}
	body := buf[4 : 4+bodyLen]
	storedCRC := binary.LittleEndian.Uint32(buf[4+bodyLen:])
	if crc32.Checksum(body, crcTable) != storedCRC {
		return nil, 0, false
	}

	rt := RecordType(body[0])
	tid := pager.TxID(binary.LittleEndian.Uint64(body[1:9]))
	lsn := pager.LSN(binary.LittleEndian.Uint64(body[9:17]))
	rec, err := unmarshalPayload(rt, body[17:])
	if err != nil {
		return nil, 0, false
	}
	rec.TxID = tid
	rec.LSN = lsn
	return rec, total, true
}

// Truncator is implemented by WAL to allow recovery to clip a torn tail.
type Truncator interface {
	TruncateAt(offset int64) error
}

// TruncateAt clips the WAL file to exactly offset bytes, discarding any
// torn tail left by a crash mid-write.
func (w *WAL) TruncateAt(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(offset); err != nil {
		return err
	}
	w.writePos = offset
	return nil
}
