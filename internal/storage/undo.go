package storage

import "github.com/sharpcoredb/sharpcoredb/internal/pager"

// undoOp names the inverse action recorded for one mutation within a
// transaction; on abort, before-images are replayed in reverse for every
// mutation.
type undoOp uint8

const (
	undoInsert undoOp = iota // inverse: delete
	undoUpdate                // inverse: restore Before
	undoDelete                // inverse: reinsert Before
)

// UndoEntry is one reversible step of an in-flight transaction.
type UndoEntry struct {
	Op     undoOp
	Table  string
	Loc    RowLoc
	Before Row // nil for undoInsert
}

// UndoLog accumulates UndoEntry values for a single transaction and can
// replay them in reverse to restore the pre-transaction state on abort.
type UndoLog struct {
	txid    pager.TxID
	entries []UndoEntry
}

// NewUndoLog starts an undo log for txid.
func NewUndoLog(txid pager.TxID) *UndoLog {
	return &UndoLog{txid: txid}
}

// RecordInsert logs that a row was inserted at loc; aborting deletes it.
func (u *UndoLog) RecordInsert(table string, loc RowLoc) {
	u.entries = append(u.entries, UndoEntry{Op: undoInsert, Table: table, Loc: loc})
}

// RecordUpdate logs a row's pre-update image; aborting restores it.
func (u *UndoLog) RecordUpdate(table string, loc RowLoc, before Row) {
	u.entries = append(u.entries, UndoEntry{Op: undoUpdate, Table: table, Loc: loc, Before: before})
}

// RecordDelete logs a row's pre-delete image; aborting reinserts it.
func (u *UndoLog) RecordDelete(table string, loc RowLoc, before Row) {
	u.entries = append(u.entries, UndoEntry{Op: undoDelete, Table: table, Loc: loc, Before: before})
}

// Rollback replays every entry in reverse against e, restoring the state
// the table was in before the transaction began.
func (u *UndoLog) Rollback(e *Engine) error {
	for i := len(u.entries) - 1; i >= 0; i-- {
		entry := u.entries[i]
		switch entry.Op {
		case undoInsert:
			if err := e.Delete(u.txid, entry.Table, entry.Loc); err != nil {
				return err
			}
		case undoUpdate:
			if err := e.Update(u.txid, entry.Table, entry.Loc, entry.Before); err != nil {
				return err
			}
		case undoDelete:
			if _, err := e.Insert(u.txid, entry.Table, entry.Before); err != nil {
				return err
			}
		}
	}
	u.entries = nil
	return nil
}

// Empty reports whether the log has no recorded mutations.
func (u *UndoLog) Empty() bool { return len(u.entries) == 0 }
