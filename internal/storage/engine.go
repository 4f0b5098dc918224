package storage

import (
	"fmt"
	"sync"

	"github.com/sharpcoredb/sharpcoredb/internal/pager"
	"github.com/sharpcoredb/sharpcoredb/internal/wal"
)

// RowLoc pinpoints a live row: the heap page it lives on and its slot
// within that page's slotted directory.
type RowLoc struct {
	Page pager.PageID
	Slot int
}

// tableState is the engine's in-memory bookkeeping for one table: its
// schema, the set of heap pages it owns, a primary-key index (left empty
// when the schema declares no primary key), and a private Materializer so concurrent scans on different
// tables never contend on each other's scratch buffer.
type tableState struct {
	table *Table
	pages []pager.PageID
	pk    map[string]RowLoc
	mat   *Materializer
}

// Engine wires the page cache, WAL, and free-space map into the uniform
// insert/update/delete/scan/lookup_pk contract the query layer consumes.
type Engine struct {
	mu    sync.RWMutex
	pgr   *pager.Pager
	cache *pager.Cache
	log   *wal.WAL
	fsMap *pager.FreeSpaceMap

	tables map[string]*tableState
}

// NewEngine assembles an Engine from its already-opened lower layers.
func NewEngine(pgr *pager.Pager, cache *pager.Cache, log *wal.WAL) *Engine {
	return &Engine{
		pgr:    pgr,
		cache:  cache,
		log:    log,
		fsMap:  pager.NewFreeSpaceMap(),
		tables: make(map[string]*tableState),
	}
}

// CreateTable registers a new, empty table. The first heap page is
// allocated immediately so Insert never has to special-case an empty
// table — pages are owned exclusively by one table.
func (e *Engine) CreateTable(t *Table) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tables[t.Name]; exists {
		return fmt.Errorf("%w: table %q already exists", ErrSchemaError, t.Name)
	}
	pid := e.pgr.AllocatePage()
	buf := pager.NewPage(e.pgr.PageSize(), pager.PageTypeLeaf, pid)
	pager.SetPageCRC(buf)
	if err := e.cache.PinNew(pid, buf); err != nil {
		return err
	}
	e.cache.Unpin(pid, true)
	e.fsMap.Update(pid, pager.WrapSlottedPage(buf).FreeSpace(), e.pgr.PageSize())

	e.tables[t.Name] = &tableState{
		table: t,
		pages: []pager.PageID{pid},
		pk:    make(map[string]RowLoc),
		mat:   NewMaterializer(t.Schema),
	}
	return nil
}

func (e *Engine) stateFor(name string) (*tableState, error) {
	ts, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", ErrNotFound, name)
	}
	return ts, nil
}

// Insert appends row to table, enforcing primary-key uniqueness and NOT
// NULL, logging a RowInsert WAL record before touching any page, and
// returning the row's location.
func (e *Engine) Insert(txid pager.TxID, tableName string, row Row) (RowLoc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, err := e.stateFor(tableName)
	if err != nil {
		return RowLoc{}, err
	}
	if err := ts.table.Schema.Validate(row); err != nil {
		return RowLoc{}, err
	}
	if ts.table.Schema.PrimaryKey >= 0 {
		if _, dup := ts.pk[string(row[ts.table.Schema.PrimaryKey].KeyBytes())]; dup {
			return RowLoc{}, fmt.Errorf("%w: table %q", ErrPrimaryKey, tableName)
		}
	}

	encoded := EncodeRow(uint16(ts.table.Schema.Version), row, nil)
	lsn, err := e.log.Append(&wal.Record{Type: wal.RecRowInsert, TxID: txid, Table: tableName, After: encoded})
	if err != nil {
		return RowLoc{}, err
	}
	return e.placeRowLocked(ts, row, encoded, lsn)
}

// ApplyInsert re-applies a RowInsert record during WAL replay. It mutates
// page and primary-key index state directly, without appending a new WAL
// record, and treats a primary key already present as that row already
// having reached disk before the crash rather than a uniqueness violation.
func (e *Engine) ApplyInsert(tableName string, row Row) (RowLoc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, err := e.stateFor(tableName)
	if err != nil {
		return RowLoc{}, err
	}
	if ts.table.Schema.PrimaryKey >= 0 {
		if loc, dup := ts.pk[string(row[ts.table.Schema.PrimaryKey].KeyBytes())]; dup {
			return loc, nil
		}
	}
	encoded := EncodeRow(uint16(ts.table.Schema.Version), row, nil)
	return e.placeRowLocked(ts, row, encoded, e.log.DurableLSN())
}

// placeRowLocked writes encoded into a page with room for it (reusing a
// free-space-map hit or allocating a fresh page), marks that page dirty at
// lsn, and records the row's location in ts.pk. Callers hold e.mu.
func (e *Engine) placeRowLocked(ts *tableState, row Row, encoded []byte, lsn pager.LSN) (RowLoc, error) {
	pid, ok := e.fsMap.FindFit(len(encoded)+4, e.pgr.PageSize())
	var buf []byte
	var err error
	if ok {
		buf, err = e.cache.Pin(pid)
		if err != nil {
			return RowLoc{}, err
		}
	} else {
		pid = e.pgr.AllocatePage()
		fresh := pager.NewPage(e.pgr.PageSize(), pager.PageTypeLeaf, pid)
		pager.SetPageCRC(fresh)
		if err := e.cache.PinNew(pid, fresh); err != nil {
			return RowLoc{}, err
		}
		ts.pages = append(ts.pages, pid)
		buf = fresh
	}
	sp := pager.WrapSlottedPage(buf)
	slot, err := sp.InsertRecord(encoded)
	if err != nil {
		// Page turned out too full for the coarse class estimate: fall
		// back to a brand-new page rather than threading retry logic
		// through every caller.
		e.cache.Unpin(pid, false)
		pid = e.pgr.AllocatePage()
		fresh := pager.NewPage(e.pgr.PageSize(), pager.PageTypeLeaf, pid)
		pager.SetPageCRC(fresh)
		if err := e.cache.PinNew(pid, fresh); err != nil {
			return RowLoc{}, err
		}
		ts.pages = append(ts.pages, pid)
		buf = fresh
		sp = pager.WrapSlottedPage(buf)
		slot, err = sp.InsertRecord(encoded)
		if err != nil {
			e.cache.Unpin(pid, false)
			return RowLoc{}, fmt.Errorf("storage: row too large for an empty page: %w", err)
		}
	}
	e.cache.MarkDirty(pid, lsn)
	e.cache.Unpin(pid, true)
	e.fsMap.Update(pid, sp.FreeSpace(), e.pgr.PageSize())

	loc := RowLoc{Page: pid, Slot: slot}
	if ts.table.Schema.PrimaryKey >= 0 {
		ts.pk[string(row[ts.table.Schema.PrimaryKey].KeyBytes())] = loc
	}
	return loc, nil
}

// Update rewrites the row at loc, logging the before- and after-images so
// an abort can restore it.
func (e *Engine) Update(txid pager.TxID, tableName string, loc RowLoc, newRow Row) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, err := e.stateFor(tableName)
	if err != nil {
		return err
	}
	if err := ts.table.Schema.Validate(newRow); err != nil {
		return err
	}

	buf, err := e.cache.Pin(loc.Page)
	if err != nil {
		return err
	}
	sp := pager.WrapSlottedPage(buf)
	before := append([]byte{}, sp.GetRecord(loc.Slot)...)
	after := EncodeRow(uint16(ts.table.Schema.Version), newRow, nil)

	lsn, err := e.log.Append(&wal.Record{
		Type: wal.RecRowUpdate, TxID: txid, Table: tableName,
		PK: pkKeyBytes(ts, before), Before: before, After: after,
	})
	if err != nil {
		e.cache.Unpin(loc.Page, false)
		return err
	}
	return e.writeUpdateLocked(ts, loc, sp, before, after, newRow, lsn)
}

// ApplyUpdate re-applies a RowUpdate record during WAL replay. It mutates
// page and primary-key index state directly, without appending a new WAL
// record.
func (e *Engine) ApplyUpdate(tableName string, loc RowLoc, newRow Row) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, err := e.stateFor(tableName)
	if err != nil {
		return err
	}
	buf, err := e.cache.Pin(loc.Page)
	if err != nil {
		return err
	}
	sp := pager.WrapSlottedPage(buf)
	before := append([]byte{}, sp.GetRecord(loc.Slot)...)
	after := EncodeRow(uint16(ts.table.Schema.Version), newRow, nil)
	return e.writeUpdateLocked(ts, loc, sp, before, after, newRow, e.log.DurableLSN())
}

// writeUpdateLocked overwrites the slot at loc with after, marks the page
// dirty at lsn, and repoints ts.pk if the primary key changed. Callers hold
// e.mu and must have already pinned loc.Page into sp.
func (e *Engine) writeUpdateLocked(ts *tableState, loc RowLoc, sp *pager.SlottedPage, before, after []byte, newRow Row, lsn pager.LSN) error {
	if _, err := sp.UpdateRecord(loc.Slot, after); err != nil {
		e.cache.Unpin(loc.Page, false)
		return err
	}
	e.cache.MarkDirty(loc.Page, lsn)
	e.cache.Unpin(loc.Page, true)
	e.fsMap.Update(loc.Page, sp.FreeSpace(), e.pgr.PageSize())

	if ts.table.Schema.PrimaryKey >= 0 {
		oldKey := pkKeyString(ts, before)
		newKey := string(newRow[ts.table.Schema.PrimaryKey].KeyBytes())
		if oldKey != newKey {
			delete(ts.pk, oldKey)
			ts.pk[newKey] = loc
		}
	}
	return nil
}

// Delete tombstones the row at loc.
func (e *Engine) Delete(txid pager.TxID, tableName string, loc RowLoc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, err := e.stateFor(tableName)
	if err != nil {
		return err
	}
	buf, err := e.cache.Pin(loc.Page)
	if err != nil {
		return err
	}
	sp := pager.WrapSlottedPage(buf)
	before := append([]byte{}, sp.GetRecord(loc.Slot)...)

	lsn, err := e.log.Append(&wal.Record{Type: wal.RecRowDelete, TxID: txid, Table: tableName, PK: pkKeyBytes(ts, before)})
	if err != nil {
		e.cache.Unpin(loc.Page, false)
		return err
	}
	return e.writeDeleteLocked(ts, loc, sp, before, lsn)
}

// ApplyDelete re-applies a RowDelete record during WAL replay. It mutates
// page and primary-key index state directly, without appending a new WAL
// record.
func (e *Engine) ApplyDelete(tableName string, loc RowLoc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, err := e.stateFor(tableName)
	if err != nil {
		return err
	}
	buf, err := e.cache.Pin(loc.Page)
	if err != nil {
		return err
	}
	sp := pager.WrapSlottedPage(buf)
	before := append([]byte{}, sp.GetRecord(loc.Slot)...)
	return e.writeDeleteLocked(ts, loc, sp, before, e.log.DurableLSN())
}

// writeDeleteLocked tombstones the slot at loc, marks the page dirty at
// lsn, and drops its primary-key entry. Callers hold e.mu and must have
// already pinned loc.Page into sp.
func (e *Engine) writeDeleteLocked(ts *tableState, loc RowLoc, sp *pager.SlottedPage, before []byte, lsn pager.LSN) error {
	if err := sp.DeleteRecord(loc.Slot); err != nil {
		e.cache.Unpin(loc.Page, false)
		return err
	}
	e.cache.MarkDirty(loc.Page, lsn)
	e.cache.Unpin(loc.Page, true)
	e.fsMap.Update(loc.Page, sp.FreeSpace(), e.pgr.PageSize())

	if ts.table.Schema.PrimaryKey >= 0 {
		delete(ts.pk, pkKeyString(ts, before))
	}
	return nil
}

// GetAt materializes the row at a known location, or ErrNotFound if the
// slot has since been tombstoned.
func (e *Engine) GetAt(tableName string, loc RowLoc) (Row, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ts, err := e.stateFor(tableName)
	if err != nil {
		return nil, err
	}
	buf, err := e.cache.Pin(loc.Page)
	if err != nil {
		return nil, err
	}
	defer e.cache.Unpin(loc.Page, false)
	sp := pager.WrapSlottedPage(buf)
	data := sp.GetRecord(loc.Slot)
	if data == nil {
		return nil, ErrNotFound
	}
	return ts.mat.Materialize(data)
}

// LookupPK returns the row whose primary key equals key, or ErrNotFound.
func (e *Engine) LookupPK(tableName string, key Value) (Row, RowLoc, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ts, err := e.stateFor(tableName)
	if err != nil {
		return nil, RowLoc{}, err
	}
	loc, ok := ts.pk[string(key.KeyBytes())]
	if !ok {
		return nil, RowLoc{}, ErrNotFound
	}
	buf, err := e.cache.Pin(loc.Page)
	if err != nil {
		return nil, RowLoc{}, err
	}
	defer e.cache.Unpin(loc.Page, false)
	sp := pager.WrapSlottedPage(buf)
	data := sp.GetRecord(loc.Slot)
	if data == nil {
		return nil, RowLoc{}, ErrNotFound
	}
	row, err := ts.mat.Materialize(data)
	if err != nil {
		return nil, RowLoc{}, err
	}
	return row, loc, nil
}

// Pages returns the heap page list owned by a table, for persisting or
// restoring the catalog's page-ownership record across a reopen.
func (e *Engine) Pages(tableName string) ([]pager.PageID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ts, err := e.stateFor(tableName)
	if err != nil {
		return nil, err
	}
	return append([]pager.PageID{}, ts.pages...), nil
}

// RestoreTable re-attaches a table whose heap pages already exist on disk
// from a prior session, rebuilding its primary-key index with a table
// scan instead of allocating a fresh page: reopening a database must not
// disturb already-durable heap pages.
func (e *Engine) RestoreTable(t *Table, pages []pager.PageID) error {
	e.mu.Lock()
	if _, exists := e.tables[t.Name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: table %q already exists", ErrSchemaError, t.Name)
	}
	ts := &tableState{table: t, pages: append([]pager.PageID{}, pages...), pk: make(map[string]RowLoc), mat: NewMaterializer(t.Schema)}
	e.tables[t.Name] = ts
	e.mu.Unlock()

	for _, pid := range pages {
		buf, err := e.cache.Pin(pid)
		if err != nil {
			return err
		}
		free := pager.WrapSlottedPage(buf).FreeSpace()
		e.cache.Unpin(pid, false)
		e.fsMap.Update(pid, free, e.pgr.PageSize())
	}

	if t.Schema.PrimaryKey < 0 {
		return nil
	}
	return e.Scan(t.Name, func(loc RowLoc, row Row) (bool, error) {
		ts.pk[string(row[t.Schema.PrimaryKey].KeyBytes())] = loc
		return true, nil
	})
}

// FreeSpaceSnapshot encodes the in-memory free-space map for persistence in
// the meta page, covering every page ID the pager has allocated so far.
func (e *Engine) FreeSpaceSnapshot() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fsMap.Encode(pager.PageID(e.pgr.Size()))
}

// RestoreFreeSpace repopulates the free-space map from a snapshot persisted
// in a prior session's meta page. RestoreTable still recomputes each of its
// own table's pages from their actual slotted-page headers once reattached,
// so this is a best-effort pre-seed rather than the source of truth: it lets
// FindFit serve a hit for any page reattached before its owning table calls
// RestoreTable.
func (e *Engine) RestoreFreeSpace(buf []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fsMap.Decode(buf, pager.PageID(e.pgr.Size()))
}

// DropTable removes a table from the live catalog. Its heap pages are
// left allocated (no free-list return is attempted): reclaiming them is a
// future compaction concern, not a correctness one.
func (e *Engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[name]; !ok {
		return fmt.Errorf("%w: table %q", ErrNotFound, name)
	}
	delete(e.tables, name)
	return nil
}

// LookupPKBytes looks up a row by its pre-encoded primary-key bytes (as
// produced by Value.KeyBytes), used by WAL replay where only the encoded
// key travels with a row-update/row-delete record.
func (e *Engine) LookupPKBytes(tableName string, keyBytes []byte) (RowLoc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ts, err := e.stateFor(tableName)
	if err != nil {
		return RowLoc{}, false
	}
	loc, ok := ts.pk[string(keyBytes)]
	return loc, ok
}

// ScanFunc is called once per live row during a Scan; returning false
// stops the scan early.
type ScanFunc func(loc RowLoc, row Row) (keepGoing bool, err error)

// Scan walks every live row of a table's heap pages in page/slot order.
// Callers needing predicate pushdown or ordering do so in the query
// executor, which layers on top of this raw, unfiltered walk.
func (e *Engine) Scan(tableName string, fn ScanFunc) error {
	e.mu.RLock()
	ts, err := e.stateFor(tableName)
	if err != nil {
		e.mu.RUnlock()
		return err
	}
	pages := append([]pager.PageID{}, ts.pages...)
	e.mu.RUnlock()

	for _, pid := range pages {
		buf, err := e.cache.Pin(pid)
		if err != nil {
			return err
		}
		sp := pager.WrapSlottedPage(buf)
		n := sp.SlotCount()
		for slot := 0; slot < n; slot++ {
			if sp.IsDeleted(slot) {
				continue
			}
			data := sp.GetRecord(slot)
			row, err := ts.mat.Materialize(data)
			if err != nil {
				e.cache.Unpin(pid, false)
				return err
			}
			keepGoing, err := fn(RowLoc{Page: pid, Slot: slot}, row)
			if err != nil {
				e.cache.Unpin(pid, false)
				return err
			}
			if !keepGoing {
				e.cache.Unpin(pid, false)
				return nil
			}
		}
		e.cache.Unpin(pid, false)
	}
	return nil
}

// Flush writes back every dirty page whose WAL record is already durable,
// then fsyncs the data file, preserving WAL-before-data ordering. It does
// not fsync the WAL: pages whose record is not yet durable stay dirty.
func (e *Engine) Flush() error {
	return e.cache.FlushAll()
}

func pkKeyBytes(ts *tableState, encoded []byte) []byte {
	if ts.table.Schema.PrimaryKey < 0 {
		return nil
	}
	_, row, err := DecodeRow(encoded, len(ts.table.Schema.Columns))
	if err != nil {
		return nil
	}
	return row[ts.table.Schema.PrimaryKey].KeyBytes()
}

func pkKeyString(ts *tableState, encoded []byte) string {
	return string(pkKeyBytes(ts, encoded))
}
