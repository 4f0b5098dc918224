package storage

import "testing"

func newTestSchema() *Schema {
	return &Schema{
		Version: 1,
		Columns: []Column{
			{Name: "id", Type: ColI64, Nullable: false},
			{Name: "name", Type: ColUTF8, Nullable: true},
			{Name: "score", Type: ColF64, Nullable: false, Default: ptr(F64(0))},
		},
		PrimaryKey: 0,
	}
}

func ptr(v Value) *Value { return &v }

func TestSchemaColumnIndex(t *testing.T) {
	s := newTestSchema()
	if s.ColumnIndex("name") != 1 {
		t.Errorf("ColumnIndex(name) = %d, want 1", s.ColumnIndex("name"))
	}
	if s.ColumnIndex("missing") != -1 {
		t.Error("ColumnIndex of an unknown column should be -1")
	}
}

func TestSchemaValidateNotNull(t *testing.T) {
	s := newTestSchema()
	if err := s.Validate(Row{I64(1), Null, F64(0)}); err != nil {
		t.Errorf("expected a nullable column to validate, got %v", err)
	}
	if err := s.Validate(Row{Null, Null, F64(0)}); err == nil {
		t.Error("expected NOT NULL violation on the id column")
	}
}

func TestSchemaApplyDefaults(t *testing.T) {
	s := newTestSchema()
	row := make(Row, len(s.Columns))
	row[0] = I64(5)
	provided := []bool{true, false, false}
	s.ApplyDefaults(row, provided)

	if !row[1].IsNull() {
		t.Error("an omitted column with no declared default should fall back to NULL")
	}
	if row[2].F != 0 {
		t.Errorf("score should take its declared default, got %+v", row[2])
	}
}
