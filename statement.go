package sharpcoredb

import (
	"fmt"
	"math/big"

	"github.com/sharpcoredb/sharpcoredb/internal/query"
	"github.com/sharpcoredb/sharpcoredb/internal/storage"
)

// Result is returned by Execute: either a row set (SELECT) or an
// affected-row count (INSERT/UPDATE/DELETE/DDL)
type Result struct {
	Columns  []string
	Rows     []storage.Row
	Affected int
}

// Statement is a prepared, parameter-bindable query: bind values by name,
// then Execute it repeatedly without reparsing.
type Statement struct {
	db     *Database
	sql    string
	cq     *query.CompiledQuery
	bound  map[string]storage.Value
}

// Bind stages a parameter value under name. value may be any Go type the
// engine can represent as a storage.Value (int, int32, int64, float64,
// string, []byte, bool, *big.Rat, or nil); for anything else Bind returns
// a schema_error.
func (s *Statement) Bind(name string, value any) error {
	v, err := toValue(value)
	if err != nil {
		return classify(err)
	}
	s.bound[name] = v
	return nil
}

// Execute runs the prepared statement with its currently bound
// parameters.
func (s *Statement) Execute() (*Result, error) {
	for _, name := range s.cq.Params.Parameters {
		if _, ok := s.bound[name]; !ok {
			return nil, classify(fmt.Errorf("sharpcoredb: parameter @%s not bound", name))
		}
	}
	return s.db.executeParsed(s.cq.Statement, query.Params(s.bound))
}

func toValue(v any) (storage.Value, error) {
	switch t := v.(type) {
	case nil:
		return storage.Null, nil
	case bool:
		return storage.Bool(t), nil
	case int:
		return storage.I64(int64(t)), nil
	case int32:
		return storage.I32(t), nil
	case int64:
		return storage.I64(t), nil
	case float64:
		return storage.F64(t), nil
	case string:
		return storage.UTF8(t), nil
	case []byte:
		return storage.Blob(t), nil
	case *big.Rat:
		return storage.Decimal(t), nil
	default:
		return storage.Value{}, fmt.Errorf("sharpcoredb: unsupported bind value type %T", v)
	}
}
