package query

import (
	"path/filepath"
	"testing"

	"github.com/sharpcoredb/sharpcoredb/internal/index"
	"github.com/sharpcoredb/sharpcoredb/internal/pager"
	"github.com/sharpcoredb/sharpcoredb/internal/storage"
	"github.com/sharpcoredb/sharpcoredb/internal/wal"
)

func newExecTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	dir := t.TempDir()
	pgr, err := pager.Open(filepath.Join(dir, "data"), pager.Options{})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { pgr.Close() })

	w, err := wal.Open(filepath.Join(dir, "data.wal"), wal.Options{})
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	cache := pager.NewCache(pgr, 64, w)
	return storage.NewEngine(pgr, cache, w)
}

func newPeopleTable(t *testing.T, e *storage.Engine) *storage.Schema {
	t.Helper()
	schema := &storage.Schema{
		Columns: []storage.Column{
			{Name: "id", Type: storage.ColI64},
			{Name: "name", Type: storage.ColUTF8},
			{Name: "age", Type: storage.ColI64},
		},
		PrimaryKey: 0,
	}
	if err := e.CreateTable(&storage.Table{Name: "people", Schema: schema}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return schema
}

func insertPerson(t *testing.T, e *storage.Engine, id int64, name string, age int64) storage.RowLoc {
	t.Helper()
	loc, err := e.Insert(1, "people", storage.Row{storage.I64(id), storage.UTF8(name), storage.I64(age)})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return loc
}

func TestExecuteSelectFiltersAndProjects(t *testing.T) {
	e := newExecTestEngine(t)
	schema := newPeopleTable(t, e)
	insertPerson(t, e, 1, "ada", 30)
	insertPerson(t, e, 2, "bo", 17)

	stmt, err := Parse("SELECT name FROM people WHERE age >= 18")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.(*SelectStmt)
	plan, err := Compile(sel, map[string]*storage.Schema{"people": schema}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	th := &TableHandle{Name: "people", Schema: schema, Engine: e}
	names, rows, err := ExecuteSelect(sel, plan, nil, map[string]*TableHandle{"people": th})
	if err != nil {
		t.Fatalf("ExecuteSelect: %v", err)
	}
	if len(names) != 1 || names[0] != "name" {
		t.Fatalf("names = %v, want [name]", names)
	}
	if len(rows) != 1 || rows[0][0] != storage.UTF8("ada") {
		t.Fatalf("rows = %v, want one row [ada]", rows)
	}
}

func TestExecuteSelectUsesIndexHint(t *testing.T) {
	e := newExecTestEngine(t)
	schema := newPeopleTable(t, e)
	insertPerson(t, e, 1, "ada", 30)
	loc2 := insertPerson(t, e, 2, "bo", 40)

	h := index.NewHash(true)
	if err := h.Insert([]storage.Value{storage.I64(2)}, loc2); err != nil {
		t.Fatalf("Hash.Insert: %v", err)
	}

	stmt, err := Parse("SELECT * FROM people WHERE id = 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.(*SelectStmt)
	indexed := map[string]map[string]storage.IndexKind{"people": {"id": storage.IndexHash}}
	plan, err := Compile(sel, map[string]*storage.Schema{"people": schema}, indexed)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	th := &TableHandle{Name: "people", Schema: schema, Engine: e, Indexes: map[string]EqualityIndex{"id": h}}
	_, rows, err := ExecuteSelect(sel, plan, nil, map[string]*TableHandle{"people": th})
	if err != nil {
		t.Fatalf("ExecuteSelect: %v", err)
	}
	if len(rows) != 1 || rows[0][1] != storage.UTF8("bo") {
		t.Fatalf("rows = %v, want one row for bo", rows)
	}
}

func TestExecuteSelectOrderByAndLimitOffset(t *testing.T) {
	e := newExecTestEngine(t)
	schema := newPeopleTable(t, e)
	insertPerson(t, e, 1, "carl", 50)
	insertPerson(t, e, 2, "ada", 30)
	insertPerson(t, e, 3, "bo", 40)

	stmt, err := Parse("SELECT name FROM people ORDER BY name ASC LIMIT 1 OFFSET 1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.(*SelectStmt)
	plan, err := Compile(sel, map[string]*storage.Schema{"people": schema}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	th := &TableHandle{Name: "people", Schema: schema, Engine: e}
	_, rows, err := ExecuteSelect(sel, plan, nil, map[string]*TableHandle{"people": th})
	if err != nil {
		t.Fatalf("ExecuteSelect: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != storage.UTF8("bo") {
		t.Fatalf("rows = %v, want one row [bo] (second name alphabetically)", rows)
	}
}

func TestExecuteSelectLeftJoinEmitsNullForUnmatched(t *testing.T) {
	e := newExecTestEngine(t)
	peopleSchema := newPeopleTable(t, e)

	ordersSchema := &storage.Schema{
		Columns: []storage.Column{
			{Name: "id", Type: storage.ColI64},
			{Name: "person_id", Type: storage.ColI64},
		},
		PrimaryKey: 0,
	}
	if err := e.CreateTable(&storage.Table{Name: "orders", Schema: ordersSchema}); err != nil {
		t.Fatalf("CreateTable(orders): %v", err)
	}

	insertPerson(t, e, 1, "ada", 30)
	if _, err := e.Insert(1, "orders", storage.Row{storage.I64(100), storage.I64(99)}); err != nil {
		t.Fatalf("Insert(orders): %v", err)
	}

	stmt, err := Parse("SELECT p.name, o.id FROM people p LEFT JOIN orders o ON o.person_id = p.id")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.(*SelectStmt)
	schemas := map[string]*storage.Schema{"p": peopleSchema, "o": ordersSchema}
	plan, err := Compile(sel, schemas, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	tables := map[string]*TableHandle{
		"p": {Name: "people", Schema: peopleSchema, Engine: e},
		"o": {Name: "orders", Schema: ordersSchema, Engine: e},
	}
	_, rows, err := ExecuteSelect(sel, plan, nil, tables)
	if err != nil {
		t.Fatalf("ExecuteSelect: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %v, want 1 row", rows)
	}
	if rows[0][0] != storage.UTF8("ada") || !rows[0][1].IsNull() {
		t.Errorf("row = %v, want [ada NULL]", rows[0])
	}
}
