// Package sharpcoredb is an embedded relational database engine: a
// page-cached, WAL-durable storage layer under a small SQL surface
// (SELECT/INSERT/UPDATE/DELETE/CREATE/DROP), compiled and cached the way
// a prepared-statement API expects.
package sharpcoredb

import (
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/sharpcoredb/sharpcoredb/internal/config"
	"github.com/sharpcoredb/sharpcoredb/internal/index"
	"github.com/sharpcoredb/sharpcoredb/internal/pager"
	"github.com/sharpcoredb/sharpcoredb/internal/query"
	"github.com/sharpcoredb/sharpcoredb/internal/storage"
	"github.com/sharpcoredb/sharpcoredb/internal/txn"
	"github.com/sharpcoredb/sharpcoredb/internal/wal"
)

// tableReg is the facade's bookkeeping for one live table: its schema,
// the executor-facing handle, and the concrete index structures behind
// the handle's EqualityIndex map (kept here too since query.EqualityIndex
// only exposes Lookup, not Insert/Delete).
type tableReg struct {
	schema        *storage.Schema
	handle        *query.TableHandle
	indexes       map[string]indexImpl // index name -> impl
	byCol         map[string]string    // column name -> index name (one index per column; a later index on the same column replaces the earlier one)
	indexBindings []storage.IndexBinding
}

// indexImpl is the maintenance surface an index structure needs beyond
// query.EqualityIndex's read-only Lookup.
type indexImpl interface {
	query.EqualityIndex
	Insert(values []storage.Value, loc storage.RowLoc) error
	Delete(values []storage.Value, loc storage.RowLoc)
}

// Database is one open SharpCoreDB handle opened via Open(path, options).
type Database struct {
	mu   sync.RWMutex
	path string
	opts config.Options

	pgr    *pager.Pager
	cache  *pager.Cache
	log    *wal.WAL
	engine *storage.Engine
	txns   *txn.Manager
	ckpt   *txn.Checkpointer
	qcache *query.Cache

	tables map[string]*tableReg
	closed bool
}

// Open opens or creates the database at path. A zero config.Options value
// is replaced with config.DefaultOptions().
func Open(path string, opts config.Options) (*Database, error) {
	if opts == (config.Options{}) {
		opts = config.DefaultOptions()
	}
	if opts.Encrypt {
		return nil, classify(fmt.Errorf("%w: page encryption is not implemented", storage.ErrSchemaError))
	}

	pgr, err := pager.Open(path, pager.Options{Mmap: opts.Mmap})
	if err != nil {
		return nil, classify(err)
	}
	w, err := wal.Open(path+".wal", wal.Options{GroupWindow: opts.GroupWindow()})
	if err != nil {
		pgr.Close()
		return nil, classify(err)
	}
	cache := pager.NewCache(pgr, int(opts.CachePages), w)
	engine := storage.NewEngine(pgr, cache, w)

	// Pre-seed the free-space map from the last session's meta page. Each
	// table's RestoreTable call below recomputes its own pages from their
	// actual slotted-page headers, so a missing or stale bitmap here only
	// costs a few avoidable page allocations, never correctness.
	if m, err := pgr.ReadMeta(); err == nil {
		engine.RestoreFreeSpace(m.Bitmap)
	}

	db := &Database{
		path:   path,
		opts:   opts,
		pgr:    pgr,
		cache:  cache,
		log:    w,
		engine: engine,
		qcache: query.NewCache(opts.StatementCacheSize),
		tables: make(map[string]*tableReg),
	}
	db.txns = txn.NewManager(w, engine)

	if err := db.loadCatalog(); err != nil {
		w.Close()
		pgr.Close()
		return nil, classify(err)
	}
	if err := db.recoverWAL(); err != nil {
		w.Close()
		pgr.Close()
		return nil, classify(err)
	}

	db.ckpt = txn.NewCheckpointer(checkpointFlusher{db}, w)
	if opts.CheckpointCron != "" {
		if err := db.ckpt.Start(opts.CheckpointCron); err != nil {
			w.Close()
			pgr.Close()
			return nil, classify(err)
		}
	}
	return db, nil
}

// checkpointFlusher adapts Database to txn.Checkpointer's flusher
// interface while also persisting the catalog at each checkpoint, so a
// table's growing page list stays recoverable without a synchronous
// catalog write on every insert.
type checkpointFlusher struct{ db *Database }

func (f checkpointFlusher) FlushAll() error {
	if err := f.db.cache.FlushAll(); err != nil {
		return err
	}
	if err := f.db.saveCatalog(); err != nil {
		return err
	}
	return f.db.saveMeta()
}

// saveMeta persists the current free-space map into the pager's meta page
// (page 0), the counterpart to Open's RestoreFreeSpace pre-seed. It syncs
// immediately since, unlike heap pages, the meta page has no WAL record to
// make its write durable.
func (db *Database) saveMeta() error {
	if err := db.pgr.WriteMeta(&pager.Meta{Bitmap: db.engine.FreeSpaceSnapshot()}); err != nil {
		return err
	}
	return db.pgr.Sync()
}

// Close stops the checkpoint scheduler, flushes every durable page, and
// closes the WAL and data file.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	if db.ckpt != nil {
		db.ckpt.Stop()
	}
	if err := db.engine.Flush(); err != nil {
		return classify(err)
	}
	if err := db.saveCatalogLocked(); err != nil {
		return classify(err)
	}
	if err := db.saveMeta(); err != nil {
		return classify(err)
	}
	if err := db.log.Close(); err != nil {
		return classify(err)
	}
	if err := db.pgr.Close(); err != nil {
		return classify(err)
	}
	db.closed = true
	return nil
}

// Flush durably persists every buffered mutation without closing the
// database.
func (db *Database) Flush() error {
	if err := db.engine.Flush(); err != nil {
		return classify(err)
	}
	if err := db.saveCatalog(); err != nil {
		return classify(err)
	}
	return db.saveMeta()
}

// Execute parses, compiles (using the cache), and runs sql with no bound
// parameters.
func (db *Database) Execute(sql string) (*Result, error) {
	return db.ExecuteParams(sql, nil)
}

// ExecuteParams runs sql with the given `@name` parameter bindings.
func (db *Database) ExecuteParams(sql string, params map[string]any) (*Result, error) {
	fp := query.Fingerprint(sql, db.schemaVersions())
	cq, err := db.qcache.Compile(fp, sql)
	if err != nil {
		return nil, classify(err)
	}
	bound := make(query.Params, len(params))
	for k, v := range params {
		val, err := toValue(v)
		if err != nil {
			return nil, classify(err)
		}
		bound[k] = val
	}
	return db.executeParsed(cq.Statement, bound)
}

// Prepare parses sql once, returning a reusable Statement.
func (db *Database) Prepare(sql string) (*Statement, error) {
	fp := query.Fingerprint(sql, db.schemaVersions())
	cq, err := db.qcache.Compile(fp, sql)
	if err != nil {
		return nil, classify(err)
	}
	return &Statement{db: db, sql: sql, cq: cq, bound: make(map[string]storage.Value)}, nil
}

func (db *Database) schemaVersions() map[string]uint32 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[string]uint32, len(db.tables))
	for name, t := range db.tables {
		out[name] = t.schema.Version
	}
	return out
}

// executeParsed dispatches an already-parsed statement to the engine,
// transaction manager, or query executor as appropriate.
func (db *Database) executeParsed(stmt query.Statement, params query.Params) (*Result, error) {
	switch s := stmt.(type) {
	case *query.SelectStmt:
		return db.execSelect(s, params)
	case *query.InsertStmt:
		return db.execInsert(s, params)
	case *query.UpdateStmt:
		return db.execUpdate(s, params)
	case *query.DeleteStmt:
		return db.execDelete(s, params)
	case *query.CreateTableStmt:
		return db.execCreateTable(s)
	case *query.CreateIndexStmt:
		return db.execCreateIndex(s)
	case *query.DropStmt:
		return db.execDrop(s)
	default:
		return nil, classify(fmt.Errorf("%w: unsupported statement %T", storage.ErrSchemaError, stmt))
	}
}

func (db *Database) execSelect(stmt *query.SelectStmt, params query.Params) (*Result, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	handles, indexedCols, schemas, err := db.planInputsLocked(stmt)
	if err != nil {
		return nil, classify(err)
	}
	plan, err := query.Compile(stmt, schemas, indexedCols)
	if err != nil {
		return nil, classify(err)
	}
	names, rows, err := query.ExecuteSelect(stmt, plan, params, handles)
	if err != nil {
		return nil, classify(err)
	}
	return &Result{Columns: names, Rows: rows}, nil
}

func (db *Database) planInputsLocked(stmt *query.SelectStmt) (map[string]*query.TableHandle, map[string]map[string]storage.IndexKind, map[string]*storage.Schema, error) {
	aliases := []string{stmt.Alias}
	tableNames := map[string]string{stmt.Alias: stmt.From}
	for _, j := range stmt.Joins {
		aliases = append(aliases, j.Alias)
		tableNames[j.Alias] = j.Table
	}

	handles := make(map[string]*query.TableHandle, len(aliases))
	indexedCols := make(map[string]map[string]storage.IndexKind, len(aliases))
	schemas := make(map[string]*storage.Schema, len(aliases))
	for _, alias := range aliases {
		reg, ok := db.tables[tableNames[alias]]
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: table %q", storage.ErrSchemaError, tableNames[alias])
		}
		handles[alias] = reg.handle
		schemas[alias] = reg.schema
		cols := make(map[string]storage.IndexKind, len(reg.byCol))
		for col, idxName := range reg.byCol {
			cols[col] = reg.indexes[idxName].(indexKindHolder).kind()
		}
		indexedCols[alias] = cols
	}
	return handles, indexedCols, schemas, nil
}

// indexKindHolder lets the facade recover an index's storage.IndexKind
// from its EqualityIndex-shaped entry in TableHandle.Indexes.
type indexKindHolder interface{ kind() storage.IndexKind }

func (db *Database) execInsert(stmt *query.InsertStmt, params query.Params) (*Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	reg, ok := db.tables[stmt.Table]
	if !ok {
		return nil, classify(fmt.Errorf("%w: table %q", storage.ErrSchemaError, stmt.Table))
	}

	tx, err := db.txns.Begin()
	if err != nil {
		return nil, classify(err)
	}

	affected := 0
	for _, exprRow := range stmt.Rows {
		row, err := buildRow(reg.schema, stmt.Columns, exprRow, params)
		if err != nil {
			tx.Abort()
			return nil, classify(err)
		}
		loc, err := tx.Insert(stmt.Table, row)
		if err != nil {
			tx.Abort()
			return nil, classify(err)
		}
		if err := indexInsertRow(reg, row, loc); err != nil {
			tx.Abort()
			return nil, classify(err)
		}
		affected++
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &Result{Affected: affected}, nil
}

func (db *Database) execUpdate(stmt *query.UpdateStmt, params query.Params) (*Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	reg, ok := db.tables[stmt.Table]
	if !ok {
		return nil, classify(fmt.Errorf("%w: table %q", storage.ErrSchemaError, stmt.Table))
	}

	tx, err := db.txns.Begin()
	if err != nil {
		return nil, classify(err)
	}

	affected := 0
	var scanErr error
	err = db.engine.Scan(stmt.Table, func(loc storage.RowLoc, row storage.Row) (bool, error) {
		b := query.Bindings{{Alias: stmt.Table, Schema: reg.schema, Row: row}}
		if stmt.Where != nil {
			ok, err := evalWhere(stmt.Where, b, params)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
		}
		newRow := append(storage.Row{}, row...)
		for col, expr := range stmt.Set {
			idx := reg.schema.ColumnIndex(col)
			if idx < 0 {
				return false, fmt.Errorf("%w: column %q", storage.ErrSchemaError, col)
			}
			v, err := evalSetExpr(expr, b, params)
			if err != nil {
				return false, err
			}
			newRow[idx] = coerceColumn(reg.schema.Columns[idx], v)
		}
		if err := tx.Update(stmt.Table, loc, row, newRow); err != nil {
			return false, err
		}
		indexUpdateRow(reg, row, newRow, loc)
		affected++
		return true, nil
	})
	if err != nil {
		scanErr = err
	}
	if scanErr != nil {
		tx.Abort()
		return nil, classify(scanErr)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &Result{Affected: affected}, nil
}

func (db *Database) execDelete(stmt *query.DeleteStmt, params query.Params) (*Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	reg, ok := db.tables[stmt.Table]
	if !ok {
		return nil, classify(fmt.Errorf("%w: table %q", storage.ErrSchemaError, stmt.Table))
	}

	tx, err := db.txns.Begin()
	if err != nil {
		return nil, classify(err)
	}

	var toDelete []storage.RowLoc
	var rowsAt []storage.Row
	err = db.engine.Scan(stmt.Table, func(loc storage.RowLoc, row storage.Row) (bool, error) {
		b := query.Bindings{{Alias: stmt.Table, Schema: reg.schema, Row: row}}
		if stmt.Where != nil {
			ok, err := evalWhere(stmt.Where, b, params)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
		}
		toDelete = append(toDelete, loc)
		rowsAt = append(rowsAt, row)
		return true, nil
	})
	if err != nil {
		tx.Abort()
		return nil, classify(err)
	}
	for i, loc := range toDelete {
		if err := tx.Delete(stmt.Table, loc, rowsAt[i]); err != nil {
			tx.Abort()
			return nil, classify(err)
		}
		indexDeleteRow(reg, rowsAt[i], loc)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &Result{Affected: len(toDelete)}, nil
}

func (db *Database) execCreateTable(stmt *query.CreateTableStmt) (*Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.tables[stmt.Table]; exists {
		return nil, classify(fmt.Errorf("%w: table %q already exists", storage.ErrSchemaError, stmt.Table))
	}

	schema := &storage.Schema{Version: 1, PrimaryKey: -1}
	for _, c := range stmt.Columns {
		ct, err := columnTypeFromKeyword(c.Type)
		if err != nil {
			return nil, classify(err)
		}
		schema.Columns = append(schema.Columns, storage.Column{Name: c.Name, Type: ct, Nullable: c.Nullable})
		if c.PrimaryKey {
			schema.PrimaryKey = len(schema.Columns) - 1
		}
	}
	table := &storage.Table{Name: stmt.Table, Schema: schema}
	if err := db.engine.CreateTable(table); err != nil {
		return nil, classify(err)
	}
	db.tables[stmt.Table] = &tableReg{
		schema:  schema,
		handle:  &query.TableHandle{Name: stmt.Table, Schema: schema, Engine: db.engine, Indexes: make(map[string]query.EqualityIndex)},
		indexes: make(map[string]indexImpl),
		byCol:   make(map[string]string),
	}
	if err := db.saveCatalogLocked(); err != nil {
		return nil, classify(err)
	}
	return &Result{}, nil
}

func (db *Database) execCreateIndex(stmt *query.CreateIndexStmt) (*Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	reg, ok := db.tables[stmt.Table]
	if !ok {
		return nil, classify(fmt.Errorf("%w: table %q", storage.ErrSchemaError, stmt.Table))
	}
	if _, exists := reg.indexes[stmt.Name]; exists {
		return nil, classify(fmt.Errorf("%w: index %q already exists", storage.ErrSchemaError, stmt.Name))
	}
	colIdx := make([]int, len(stmt.Columns))
	for i, c := range stmt.Columns {
		idx := reg.schema.ColumnIndex(c)
		if idx < 0 {
			return nil, classify(fmt.Errorf("%w: column %q", storage.ErrSchemaError, c))
		}
		colIdx[i] = idx
	}

	var impl indexImpl
	var kind storage.IndexKind
	if stmt.Kind == "hash" {
		impl = &hashIndex{Hash: index.NewHash(stmt.Unique)}
		kind = storage.IndexHash
	} else {
		impl = &btreeIndex{BTree: index.NewBTree(stmt.Unique)}
		kind = storage.IndexOrdered
	}

	if err := db.engine.Scan(stmt.Table, func(loc storage.RowLoc, row storage.Row) (bool, error) {
		return true, impl.Insert(keysFor(row, colIdx), loc)
	}); err != nil {
		return nil, classify(err)
	}

	reg.indexes[stmt.Name] = impl
	if len(stmt.Columns) == 1 {
		reg.byCol[stmt.Columns[0]] = stmt.Name
		reg.handle.Indexes[stmt.Columns[0]] = impl
	}
	reg.indexBindings = append(reg.indexBindings, storage.IndexBinding{Name: stmt.Name, Kind: kind, Columns: colIdx, Unique: stmt.Unique})

	if err := db.saveCatalogLocked(); err != nil {
		return nil, classify(err)
	}
	return &Result{}, nil
}

func (db *Database) execDrop(stmt *query.DropStmt) (*Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	switch stmt.Kind {
	case "table":
		if _, ok := db.tables[stmt.Name]; !ok {
			return nil, classify(fmt.Errorf("%w: table %q", storage.ErrSchemaError, stmt.Name))
		}
		if err := db.engine.DropTable(stmt.Name); err != nil {
			return nil, classify(err)
		}
		delete(db.tables, stmt.Name)
		db.qcache.EvictSchema(stmt.Name)
	case "index":
		found := false
		for _, reg := range db.tables {
			if _, ok := reg.indexes[stmt.Name]; ok {
				delete(reg.indexes, stmt.Name)
				for col, name := range reg.byCol {
					if name == stmt.Name {
						delete(reg.byCol, col)
						delete(reg.handle.Indexes, col)
					}
				}
				found = true
				break
			}
		}
		if !found {
			return nil, classify(fmt.Errorf("%w: index %q", storage.ErrSchemaError, stmt.Name))
		}
	default:
		return nil, classify(fmt.Errorf("%w: unknown DROP kind %q", storage.ErrSchemaError, stmt.Kind))
	}
	if err := db.saveCatalogLocked(); err != nil {
		return nil, classify(err)
	}
	return &Result{}, nil
}

// buildRow assembles a full row from an INSERT's (possibly partial)
// column list, applying schema defaults/NULL to omitted columns.
func buildRow(schema *storage.Schema, cols []string, exprs []query.Expr, params query.Params) (storage.Row, error) {
	row := make(storage.Row, len(schema.Columns))
	provided := make([]bool, len(schema.Columns))

	targets := cols
	if len(targets) == 0 {
		targets = make([]string, len(schema.Columns))
		for i, c := range schema.Columns {
			targets[i] = c.Name
		}
	}
	if len(targets) != len(exprs) {
		return nil, fmt.Errorf("%w: insert has %d columns but %d values", storage.ErrSchemaError, len(targets), len(exprs))
	}
	for i, name := range targets {
		idx := schema.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: column %q", storage.ErrSchemaError, name)
		}
		v, err := evalSetExpr(exprs[i], nil, params)
		if err != nil {
			return nil, err
		}
		row[idx] = coerceColumn(schema.Columns[idx], v)
		provided[idx] = true
	}
	schema.ApplyDefaults(row, provided)
	return row, nil
}

// coerceColumn widens a literal-typed value to the column's declared type
// where the SQL surface has no dedicated literal syntax of its own — a
// DECIMAL column accepts an int/float/string literal and converts it to
// the exact rational the column stores.
func coerceColumn(col storage.Column, v storage.Value) storage.Value {
	if col.Type != storage.ColDecimal || v.IsNull() || v.Kind == storage.KindDecimal {
		return v
	}
	var raw any
	switch v.Kind {
	case storage.KindI32, storage.KindI64:
		raw = v.I
	case storage.KindF64:
		raw = v.F
	case storage.KindUTF8:
		raw = v.S
	default:
		return v
	}
	if r, ok := storage.DecimalFromAny(raw); ok {
		return storage.Decimal(r)
	}
	return v
}

func keysFor(row storage.Row, colIdx []int) []storage.Value {
	keys := make([]storage.Value, len(colIdx))
	for i, c := range colIdx {
		keys[i] = row[c]
	}
	return keys
}

func indexInsertRow(reg *tableReg, row storage.Row, loc storage.RowLoc) error {
	for _, binding := range reg.indexBindings {
		impl := reg.indexes[binding.Name]
		if impl == nil {
			continue
		}
		if err := impl.Insert(keysFor(row, binding.Columns), loc); err != nil {
			return err
		}
	}
	return nil
}

func indexDeleteRow(reg *tableReg, row storage.Row, loc storage.RowLoc) {
	for _, binding := range reg.indexBindings {
		impl := reg.indexes[binding.Name]
		if impl == nil {
			continue
		}
		impl.Delete(keysFor(row, binding.Columns), loc)
	}
}

func indexUpdateRow(reg *tableReg, before, after storage.Row, loc storage.RowLoc) {
	indexDeleteRow(reg, before, loc)
	indexInsertRow(reg, after, loc)
}

func evalWhere(e query.Expr, b query.Bindings, p query.Params) (bool, error) {
	v, err := query.EvalValue(e, b, p)
	if err != nil {
		return false, err
	}
	return query.Truthy(v), nil
}

func evalSetExpr(e query.Expr, b query.Bindings, p query.Params) (storage.Value, error) {
	return query.EvalValue(e, b, p)
}

func columnTypeFromKeyword(kw string) (storage.ColumnType, error) {
	switch kw {
	case "I32":
		return storage.ColI32, nil
	case "I64":
		return storage.ColI64, nil
	case "F64":
		return storage.ColF64, nil
	case "DECIMAL":
		return storage.ColDecimal, nil
	case "UTF8", "TEXT":
		return storage.ColUTF8, nil
	case "BLOB":
		return storage.ColBlob, nil
	case "BOOL":
		return storage.ColBool, nil
	default:
		return 0, fmt.Errorf("%w: unknown column type %q", storage.ErrSchemaError, kw)
	}
}

// ── index wrapper types ────────────────────────────────────────────────
//
// index.Hash and index.BTree already satisfy query.EqualityIndex and
// indexImpl; these thin wrappers additionally report their storage.
// IndexKind so the facade can populate deriveIndexHint's indexedCols map
// without the query package importing the index package: index and query
// each depend only on storage, and the facade is the one place that
// bridges index -> query.

type hashIndex struct{ *index.Hash }

func (h *hashIndex) kind() storage.IndexKind { return storage.IndexHash }

type btreeIndex struct{ *index.BTree }

func (b *btreeIndex) kind() storage.IndexKind { return storage.IndexOrdered }

// ── catalog persistence ─────────────────────────────────────────────────

type catalogColumn struct {
	Name     string
	Type     storage.ColumnType
	Nullable bool
}

type catalogTable struct {
	Name       string
	Columns    []catalogColumn
	PrimaryKey int
	Version    uint32
	Pages      []uint32
}

type catalogIndex struct {
	Name    string
	Table   string
	Columns []string
	Kind    string
	Unique  bool
}

type catalogDoc struct {
	Tables  []catalogTable
	Indexes []catalogIndex
}

func (db *Database) catalogPath() string { return db.path + ".catalog" }

// saveCatalog acquires the read lock and writes the catalog sidecar.
func (db *Database) saveCatalog() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.saveCatalogLocked()
}

// saveCatalogLocked writes the catalog sidecar file; callers must already
// hold db.mu (read or write).
//
// The catalog is a small gob-encoded document rather than a page-resident
// dictionary chained through the pager, since every index's contents are
// themselves re-derived from a table scan at open — only the
// table/column/page-ownership facts need to survive a reopen.
func (db *Database) saveCatalogLocked() error {
	doc := catalogDoc{}
	for name, reg := range db.tables {
		pages, err := db.engine.Pages(name)
		if err != nil {
			return err
		}
		ct := catalogTable{Name: name, PrimaryKey: reg.schema.PrimaryKey, Version: reg.schema.Version}
		for _, p := range pages {
			ct.Pages = append(ct.Pages, uint32(p))
		}
		for _, c := range reg.schema.Columns {
			ct.Columns = append(ct.Columns, catalogColumn{Name: c.Name, Type: c.Type, Nullable: c.Nullable})
		}
		doc.Tables = append(doc.Tables, ct)
		for _, binding := range reg.indexBindings {
			kindStr := "btree"
			if binding.Kind == storage.IndexHash {
				kindStr = "hash"
			}
			var cols []string
			for _, ci := range binding.Columns {
				cols = append(cols, reg.schema.Columns[ci].Name)
			}
			doc.Indexes = append(doc.Indexes, catalogIndex{Name: binding.Name, Table: name, Columns: cols, Kind: kindStr, Unique: binding.Unique})
		}
	}

	tmp := db.catalogPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("sharpcoredb: write catalog: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&doc); err != nil {
		f.Close()
		return fmt.Errorf("sharpcoredb: encode catalog: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sharpcoredb: write catalog: %w", err)
	}
	return os.Rename(tmp, db.catalogPath())
}

// loadCatalog reads the catalog sidecar (if present) and re-attaches
// every table's existing heap pages and indexes, rebuilding index
// contents with a table scan.
func (db *Database) loadCatalog() error {
	f, err := os.Open(db.catalogPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sharpcoredb: read catalog: %w", err)
	}
	defer f.Close()

	var doc catalogDoc
	if err := gob.NewDecoder(f).Decode(&doc); err != nil {
		return fmt.Errorf("sharpcoredb: decode catalog: %w", err)
	}

	for _, ct := range doc.Tables {
		schema := &storage.Schema{Version: ct.Version, PrimaryKey: ct.PrimaryKey}
		for _, c := range ct.Columns {
			schema.Columns = append(schema.Columns, storage.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable})
		}
		table := &storage.Table{Name: ct.Name, Schema: schema}
		pages := make([]pager.PageID, len(ct.Pages))
		for i, p := range ct.Pages {
			pages[i] = pager.PageID(p)
		}
		if err := db.engine.RestoreTable(table, pages); err != nil {
			return err
		}
		db.tables[ct.Name] = &tableReg{
			schema:  schema,
			handle:  &query.TableHandle{Name: ct.Name, Schema: schema, Engine: db.engine, Indexes: make(map[string]query.EqualityIndex)},
			indexes: make(map[string]indexImpl),
			byCol:   make(map[string]string),
		}
	}

	for _, ci := range doc.Indexes {
		reg, ok := db.tables[ci.Table]
		if !ok {
			continue
		}
		colIdx := make([]int, len(ci.Columns))
		for i, name := range ci.Columns {
			colIdx[i] = reg.schema.ColumnIndex(name)
		}
		var impl indexImpl
		var kind storage.IndexKind
		if ci.Kind == "hash" {
			impl = &hashIndex{Hash: index.NewHash(ci.Unique)}
			kind = storage.IndexHash
		} else {
			impl = &btreeIndex{BTree: index.NewBTree(ci.Unique)}
			kind = storage.IndexOrdered
		}
		if err := db.engine.Scan(ci.Table, func(loc storage.RowLoc, row storage.Row) (bool, error) {
			return true, impl.Insert(keysFor(row, colIdx), loc)
		}); err != nil {
			return err
		}
		reg.indexes[ci.Name] = impl
		if len(ci.Columns) == 1 {
			reg.byCol[ci.Columns[0]] = ci.Name
			reg.handle.Indexes[ci.Columns[0]] = impl
		}
		reg.indexBindings = append(reg.indexBindings, storage.IndexBinding{Name: ci.Name, Kind: kind, Columns: colIdx, Unique: ci.Unique})
	}
	return nil
}

// recoverWAL replays every record durably appended since the last
// checkpoint against the (already catalog-restored) tables. Because abort
// is implemented as compensating writes rather than a discard (see
// internal/txn), a single in-order forward replay of the whole remaining
// log reconstructs the correct final state without needing to classify
// any transaction as committed or aborted.
func (db *Database) recoverWAL() error {
	validLen, _, err := wal.Replay(db.log.Path(), func(rec *wal.Record) error {
		switch rec.Type {
		case wal.RecRowInsert:
			reg, ok := db.tables[rec.Table]
			if !ok {
				return nil
			}
			_, row, err := storage.DecodeRow(rec.After, len(reg.schema.Columns))
			if err != nil {
				return err
			}
			loc, err := db.engine.ApplyInsert(rec.Table, row)
			if err != nil {
				return err
			}
			return indexInsertRow(reg, row, loc)
		case wal.RecRowUpdate:
			reg, ok := db.tables[rec.Table]
			if !ok {
				return nil
			}
			loc, ok := db.engine.LookupPKBytes(rec.Table, rec.PK)
			if !ok {
				return nil
			}
			_, before, err := storage.DecodeRow(rec.Before, len(reg.schema.Columns))
			if err != nil {
				return err
			}
			_, after, err := storage.DecodeRow(rec.After, len(reg.schema.Columns))
			if err != nil {
				return err
			}
			if err := db.engine.ApplyUpdate(rec.Table, loc, after); err != nil {
				return err
			}
			indexUpdateRow(reg, before, after, loc)
			return nil
		case wal.RecRowDelete:
			reg, ok := db.tables[rec.Table]
			if !ok {
				return nil
			}
			loc, ok := db.engine.LookupPKBytes(rec.Table, rec.PK)
			if !ok {
				return nil
			}
			row, err := db.engine.GetAt(rec.Table, loc)
			if err != nil {
				return nil
			}
			if err := db.engine.ApplyDelete(rec.Table, loc); err != nil {
				return err
			}
			indexDeleteRow(reg, row, loc)
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}
	if validLen >= wal.FileHeaderLen {
		return db.log.TruncateAt(validLen)
	}
	return nil
}
