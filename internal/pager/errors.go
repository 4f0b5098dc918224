package pager

import "errors"

// Sentinel errors surfaced by the pager. Callers compare with errors.Is.
var (
	// ErrIO wraps any read/write/sync failure against the database file.
	// Per this is fatal to the containing transaction.
	ErrIO = errors.New("pager: io error")

	// ErrCorruption indicates a CRC or magic mismatch on an on-disk page.
	ErrCorruption = errors.New("pager: corruption detected")

	// ErrCacheFull indicates the page cache has no unpinned victim.
	ErrCacheFull = errors.New("pager: cache full")

	// ErrClosed indicates an operation on an already-closed pager.
	ErrClosed = errors.New("pager: closed")
)
