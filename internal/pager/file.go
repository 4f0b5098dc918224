package pager

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// MmapMinBytes and MmapMaxBytes bound the file sizes for which the pager
// backs reads with a memory-mapped view (files in [10MB, 50MB]).
const (
	MmapMinBytes = 10 << 20
	MmapMaxBytes = 50 << 20
)

// Header is the on-disk database file header.
//
//	[0:4]   Magic            "SCDB"
//	[4:6]   Version          uint16 LE
//	[6:8]   PageSize         uint16 LE
//	[8:12]  RootMetaPageID   uint32 LE
//	[12:20] SchemaDictPtr    uint64 LE (page ID of the schema dictionary, 0 = none)
//	[20:32] Reserved
const (
	FileMagic      = "SCDB"
	FileVersion    = uint16(1)
	FileHeaderSize = 32

	fhOffMagic    = 0
	fhOffVersion  = 4
	fhOffPageSize = 6
	fhOffRootMeta = 8
	fhOffSchemaP  = 12
)

// Options configures a Pager.
type Options struct {
	PageSize int  // default DefaultPageSize
	Mmap     bool // enable mmap-backed reads when eligible by file size
}

// Pager is the single-file page I/O layer. It is oblivious to page
// contents: callers are responsible for WAL-before-data ordering, caching,
// and record interpretation.
type Pager struct {
	mu       sync.RWMutex
	file     *os.File
	path     string
	pageSize int
	opts     Options

	mapped    mmap.MMap // non-nil when the mmap read path is active
	mappedLen int64

	nextPageID PageID
}

// Open opens or creates a single-file database. If the file does not
// exist, a fresh header (and meta page 0) is written.
func Open(path string, opts Options) (*Pager, error) {
	ps := opts.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("pager: invalid page size %d", ps)
	}

	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	p := &Pager{file: f, path: path, pageSize: ps, opts: opts, nextPageID: 1}

	if isNew {
		hdr := make([]byte, FileHeaderSize)
		copy(hdr[fhOffMagic:], FileMagic)
		putU16(hdr[fhOffVersion:], FileVersion)
		putU16(hdr[fhOffPageSize:], uint16(ps))
		putU32(hdr[fhOffRootMeta:], 0)
		putU64(hdr[fhOffSchemaP:], 0)
		if _, err := f.WriteAt(hdr, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: write header: %v", ErrIO, err)
		}
		meta := MarshalMeta(NewMeta(), ps)
		if _, err := f.WriteAt(meta, int64(FileHeaderSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: write meta page: %v", ErrIO, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: sync: %v", ErrIO, err)
		}
	} else {
		hdr := make([]byte, FileHeaderSize)
		if _, err := f.ReadAt(hdr, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: read header: %v", ErrIO, err)
		}
		if string(hdr[fhOffMagic:fhOffMagic+4]) != FileMagic {
			f.Close()
			return nil, fmt.Errorf("%w: bad magic", ErrCorruption)
		}
		onDiskPS := int(getU16(hdr[fhOffPageSize:]))
		if onDiskPS != 0 {
			p.pageSize = onDiskPS
		}
		p.nextPageID = p.computeNextPageID()
	}

	if opts.Mmap {
		if err := p.refreshMmap(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return p, nil
}

func (p *Pager) computeNextPageID() PageID {
	fi, err := p.file.Stat()
	if err != nil {
		return 1
	}
	body := fi.Size() - FileHeaderSize
	if body <= 0 {
		return 1
	}
	// Pages 0..n-1 (page 0 being the meta page) occupy the body, so the
	// next free ID is n.
	n := PageID(body / int64(p.pageSize))
	if n < 1 {
		return 1
	}
	return n
}

// refreshMmap (re)establishes the mmap view if the current file size falls
// in [MmapMinBytes, MmapMaxBytes]. Called after Open and after growth.
// Writes never go through the mapping — only positioned writes, to
// preserve durability semantics.
func (p *Pager) refreshMmap() error {
	if p.mapped != nil {
		_ = p.mapped.Unmap()
		p.mapped = nil
	}
	fi, err := p.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %v", ErrIO, err)
	}
	size := fi.Size()
	if size < MmapMinBytes || size > MmapMaxBytes {
		p.mappedLen = 0
		return nil
	}
	m, err := mmap.Map(p.file, mmap.RDONLY, 0)
	if err != nil {
		// mmap is a read-path optimization only; degrade gracefully.
		p.mappedLen = 0
		return nil
	}
	p.mapped = m
	p.mappedLen = size
	return nil
}

func (p *Pager) pageOffset(id PageID) int64 {
	return FileHeaderSize + int64(id)*int64(p.pageSize)
}

// ReadPage reads one page by ID. If the file is within the mmap-eligible
// range, the read is served from the memory-mapped view; otherwise it uses
// a positioned read.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	off := p.pageOffset(id)
	buf := make([]byte, p.pageSize)

	if p.mapped != nil && off+int64(p.pageSize) <= p.mappedLen {
		copy(buf, p.mapped[off:off+int64(p.pageSize)])
		return buf, nil
	}

	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: read page %d: %v", ErrIO, id, err)
	}
	return buf, nil
}

// WritePage writes a full page image via a positioned write. Writes always
// bypass the mmap view so that durability is never contingent on msync
// ordering.
func (p *Pager) WritePage(id PageID, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	off := p.pageOffset(id)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("%w: write page %d: %v", ErrIO, id, err)
	}
	if id >= p.nextPageID {
		p.nextPageID = id + 1
	}
	return nil
}

// AllocatePage reserves the next page ID. The caller is responsible for
// writing a zeroed, typed page via WritePage.
func (p *Pager) AllocatePage() PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextPageID
	p.nextPageID++
	return id
}

// Sync fsyncs the database file and, when growth may have crossed an mmap
// size boundary, refreshes the mmap view.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	if p.opts.Mmap {
		return p.refreshMmap()
	}
	return nil
}

// Size returns the number of pages currently allocated.
func (p *Pager) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int(p.nextPageID) - 1
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// Close releases the mmap view (if any) and closes the underlying file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mapped != nil {
		_ = p.mapped.Unmap()
		p.mapped = nil
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func getU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
