// Package txn implements transaction lifecycle: begin/commit/
// abort against the WAL, with undo-log-driven rollback and a background
// checkpoint scheduler.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sharpcoredb/sharpcoredb/internal/pager"
	"github.com/sharpcoredb/sharpcoredb/internal/storage"
	"github.com/sharpcoredb/sharpcoredb/internal/wal"
)

// Manager is a single-writer, multi-reader transaction coordinator: the
// storage engine supports multiple concurrent readers and a single
// concurrent writer.
type Manager struct {
	log    *wal.WAL
	engine *storage.Engine

	writerMu sync.Mutex // held for the duration of one writer transaction
	nextTxID atomic.Uint64

	activeMu sync.Mutex
	active   map[pager.TxID]*storage.UndoLog
}

// NewManager creates a transaction manager over log and engine.
func NewManager(log *wal.WAL, engine *storage.Engine) *Manager {
	m := &Manager{log: log, engine: engine, active: make(map[pager.TxID]*storage.UndoLog)}
	m.nextTxID.Store(1)
	return m
}

// Tx is a handle to one in-flight transaction.
type Tx struct {
	id   pager.TxID
	mgr  *Manager
	undo *storage.UndoLog
	done bool
}

// ID returns the transaction's identifier.
func (t *Tx) ID() pager.TxID { return t.id }

// Begin starts a new write transaction, blocking until any other writer
// finishes (single-writer model). It allocates a transaction ID and logs
// a begin-txn record immediately, before any row mutation.
func (m *Manager) Begin() (*Tx, error) {
	m.writerMu.Lock()
	id := pager.TxID(m.nextTxID.Add(1) - 1)
	if _, err := m.log.Append(&wal.Record{Type: wal.RecBeginTxn, TxID: id}); err != nil {
		m.writerMu.Unlock()
		return nil, err
	}
	undo := storage.NewUndoLog(id)
	m.activeMu.Lock()
	m.active[id] = undo
	m.activeMu.Unlock()
	return &Tx{id: id, mgr: m, undo: undo}, nil
}

// Insert performs the mutation, then records its undo entry.
func (t *Tx) Insert(table string, row storage.Row) (storage.RowLoc, error) {
	loc, err := t.mgr.engine.Insert(t.id, table, row)
	if err != nil {
		return loc, err
	}
	t.undo.RecordInsert(table, loc)
	return loc, nil
}

// Update performs the mutation, then records the before-image.
func (t *Tx) Update(table string, loc storage.RowLoc, before, after storage.Row) error {
	if err := t.mgr.engine.Update(t.id, table, loc, after); err != nil {
		return err
	}
	t.undo.RecordUpdate(table, loc, before)
	return nil
}

// Delete performs the mutation, then records the before-image.
func (t *Tx) Delete(table string, loc storage.RowLoc, before storage.Row) error {
	if err := t.mgr.engine.Delete(t.id, table, loc); err != nil {
		return err
	}
	t.undo.RecordDelete(table, loc, before)
	return nil
}

// Commit writes a commit record, group-fsyncs, and releases the writer
// slot.
func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("txn: transaction %d already finished", t.id)
	}
	if _, err := t.mgr.log.Commit(t.id); err != nil {
		return err
	}
	t.finish()
	return nil
}

// Abort replays the undo log in reverse, writes a commit(abort) marker,
// and releases the writer slot.
func (t *Tx) Abort() error {
	if t.done {
		return fmt.Errorf("txn: transaction %d already finished", t.id)
	}
	if err := t.undo.Rollback(t.mgr.engine); err != nil {
		return err
	}
	if _, err := t.mgr.log.Commit(t.id); err != nil {
		return err
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.done = true
	t.mgr.activeMu.Lock()
	delete(t.mgr.active, t.id)
	t.mgr.activeMu.Unlock()
	t.mgr.writerMu.Unlock()
}
