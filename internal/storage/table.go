package storage

import "fmt"

// ColumnType is the declared (static) type of a schema column. Cell values
// remain dynamically typed (Value/Kind) — ColumnType only drives DDL
// validation (NOT NULL, default application) and is distinct from Kind so
// the query compiler can tell a statically known column type from a
// dynamically typed cell.
type ColumnType uint8

const (
	ColI32 ColumnType = iota
	ColI64
	ColF64
	ColDecimal
	ColUTF8
	ColBlob
	ColBool
)

// Column describes one table column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  *Value
}

// Schema is an ordered sequence of columns plus the declared primary key.
type Schema struct {
	Version    uint32 // set when the table is created; part of the query compiler cache fingerprint
	Columns    []Column
	PrimaryKey int // index into Columns; -1 if none
}

// ColumnIndex returns the index of a column by name, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Table owns a heap of pages (via the StorageEngine) plus zero or more
// indexes. Pages are owned exclusively by one table.
type Table struct {
	Name    string
	Schema  *Schema
	Indexes []IndexBinding
}

// IndexKind distinguishes the two index flavors: hash and ordered B-tree.
type IndexKind uint8

const (
	IndexHash IndexKind = iota
	IndexOrdered
)

// IndexBinding records an index's shape without depending on the index
// package, avoiding an import cycle (internal/index depends on storage for
// Value/Row).
type IndexBinding struct {
	Name    string
	Kind    IndexKind
	Columns []int // column indexes, composite keys ordered lexicographically
	Unique  bool
}

// Validate enforces NOT NULL at the schema boundary; primary-key
// uniqueness is enforced by the engine at insert time.
func (s *Schema) Validate(row Row) error {
	if len(row) != len(s.Columns) {
		return fmt.Errorf("storage: row has %d columns, schema has %d", len(row), len(s.Columns))
	}
	for i, c := range s.Columns {
		if row[i].IsNull() && !c.Nullable {
			return fmt.Errorf("%w: column %q", ErrNotNull, c.Name)
		}
	}
	return nil
}

// ApplyDefaults fills every column whose provided flag is false with its
// declared default. Callers pass a row sized to len(Columns) with zero Values for
// columns omitted from an INSERT's column list.
func (s *Schema) ApplyDefaults(row Row, provided []bool) {
	for i, c := range s.Columns {
		if provided[i] {
			continue
		}
		if c.Default != nil {
			row[i] = *c.Default
		} else {
			row[i] = Null
		}
	}
}
