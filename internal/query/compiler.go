package query

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/sharpcoredb/sharpcoredb/internal/storage"
)

// Binding is one table's contribution to a row under evaluation: its
// alias, schema (for column-name resolution), and materialized row. A
// join combines several Bindings into one evaluation context.
type Binding struct {
	Alias  string
	Schema *storage.Schema
	Row    storage.Row
}

// Bindings is the evaluation context passed to every compiled closure.
type Bindings []Binding

// Resolve looks up a column, honoring an explicit table qualifier when
// present and otherwise searching every binding; duplicate column names
// are disambiguated by alias.
func (bs Bindings) Resolve(ref *ColumnRef) (storage.Value, error) {
	for _, b := range bs {
		if ref.Table != "" && ref.Table != b.Alias {
			continue
		}
		idx := b.Schema.ColumnIndex(ref.Name)
		if idx < 0 {
			continue
		}
		if b.Row == nil {
			return storage.Null, nil // unmatched LEFT JOIN inner side
		}
		return b.Row[idx], nil
	}
	return storage.Value{}, fmt.Errorf("query: unknown column %q", ref.Name)
}

// Params holds the bound parameter values consulted at evaluation time,
// keyed by parameter name.
type Params map[string]storage.Value

// IndexHint names an index the executor should range/equality-scan
// instead of a full table scan. Eq is set for an equality predicate (hash
// or ordered index); Lo/Hi are set for a range predicate and only apply to
// an ordered index, either of which may be nil for an open-ended bound.
type IndexHint struct {
	Table  string
	Column string
	Kind   storage.IndexKind
	Eq     Expr
	Lo     Expr
	Hi     Expr
}

// SortKey is one compiled ORDER BY term.
type SortKey struct {
	Extract func(Bindings, Params) (storage.Value, error)
	Dir     Direction
}

// CompiledPlan is the query compiler's output: a filter
// closure, a project closure, sort-key extractors, offset/limit, and an
// optional index hint.
type CompiledPlan struct {
	Filter       func(Bindings, Params) (bool, error)
	Project      func(Bindings, Params) (storage.Row, error)
	ProjectNames []string
	Sort         []SortKey
	Offset       int
	Limit        int
	HasLimit     bool
	Hint         *IndexHint
}

// Compile builds a CompiledPlan for stmt against the given table schemas
// (keyed by alias). indexedCols names, per table alias, the columns that
// have an index available, so an equality WHERE clause on one can be
// turned into an index hint instead of a full scan.
func Compile(stmt *SelectStmt, schemas map[string]*storage.Schema, indexedCols map[string]map[string]storage.IndexKind) (*CompiledPlan, error) {
	plan := &CompiledPlan{Offset: stmt.Offset, Limit: stmt.Limit, HasLimit: stmt.HasLim}

	if stmt.Where != nil {
		plan.Filter = func(b Bindings, p Params) (bool, error) {
			v, err := evalExpr(stmt.Where, b, p)
			if err != nil {
				return false, err
			}
			return truthy(v), nil
		}
		plan.Hint = deriveIndexHint(stmt, indexedCols)
	} else {
		plan.Filter = func(Bindings, Params) (bool, error) { return true, nil }
	}

	names, projectors, err := compileProjection(stmt, schemas)
	if err != nil {
		return nil, err
	}
	plan.ProjectNames = names
	plan.Project = func(b Bindings, p Params) (storage.Row, error) {
		out := make(storage.Row, len(projectors))
		for i, fn := range projectors {
			v, err := fn(b, p)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	for _, term := range stmt.Order {
		term := term
		plan.Sort = append(plan.Sort, SortKey{
			Dir: term.Dir,
			Extract: func(b Bindings, p Params) (storage.Value, error) {
				return evalExpr(term.Col, b, p)
			},
		})
	}

	return plan, nil
}

func compileProjection(stmt *SelectStmt, schemas map[string]*storage.Schema) ([]string, []func(Bindings, Params) (storage.Value, error), error) {
	if stmt.Columns == nil {
		// SELECT * : project every column of every table in FROM/JOIN order.
		var names []string
		var fns []func(Bindings, Params) (storage.Value, error)
		order := []string{stmt.Alias}
		for _, j := range stmt.Joins {
			order = append(order, j.Alias)
		}
		for _, alias := range order {
			schema := schemas[alias]
			for _, col := range schema.Columns {
				col := col
				alias := alias
				names = append(names, col.Name)
				fns = append(fns, func(b Bindings, _ Params) (storage.Value, error) {
					return b.Resolve(&ColumnRef{Table: alias, Name: col.Name})
				})
			}
		}
		return names, fns, nil
	}
	names := make([]string, len(stmt.Columns))
	fns := make([]func(Bindings, Params) (storage.Value, error), len(stmt.Columns))
	for i, item := range stmt.Columns {
		item := item
		names[i] = item.Alias
		fns[i] = func(b Bindings, p Params) (storage.Value, error) {
			return evalExpr(item.Expr, b, p)
		}
	}
	return names, fns, nil
}

// deriveIndexHint recognizes the shape `col = <literal|param>`, either
// directly or as one AND-conjunct, on a column that carries an index, and
// turns it into an index hint the executor can use instead of a scan. An
// equality predicate always wins since it narrows to at most one key; with
// none present, every `col OP <literal|param>` conjunct (OP one of
// </<=/>/>=) against the same ordered-indexed column is folded into a
// single [lo, hi] range hint for BTree.Range.
func deriveIndexHint(stmt *SelectStmt, indexedCols map[string]map[string]storage.IndexKind) *IndexHint {
	conjuncts := flattenAnd(stmt.Where)

	for _, c := range conjuncts {
		bin, ok := c.(*Binary)
		if !ok || bin.Op != OpEq {
			continue
		}
		if ref, ok := bin.Left.(*ColumnRef); ok {
			if kind, ok := indexKindFor(indexedCols, refTable(ref, stmt), ref.Name); ok {
				return &IndexHint{Table: refTable(ref, stmt), Column: ref.Name, Kind: kind, Eq: bin.Right}
			}
		}
		if ref, ok := bin.Right.(*ColumnRef); ok {
			if kind, ok := indexKindFor(indexedCols, refTable(ref, stmt), ref.Name); ok {
				return &IndexHint{Table: refTable(ref, stmt), Column: ref.Name, Kind: kind, Eq: bin.Left}
			}
		}
	}

	var hint *IndexHint
	for _, c := range conjuncts {
		bin, ok := c.(*Binary)
		if !ok {
			continue
		}
		ref, bound, lower, ok := rangeBoundFrom(bin)
		if !ok {
			continue
		}
		table := refTable(ref, stmt)
		kind, ok := indexKindFor(indexedCols, table, ref.Name)
		if !ok || kind != storage.IndexOrdered {
			continue
		}
		if hint == nil {
			hint = &IndexHint{Table: table, Column: ref.Name, Kind: kind}
		} else if hint.Table != table || hint.Column != ref.Name {
			continue // bounds target a different column: keep the first one found
		}
		if lower {
			hint.Lo = bound
		} else {
			hint.Hi = bound
		}
	}
	return hint
}

// rangeBoundFrom recognizes `col OP <literal|param>` or its mirror image
// `<literal|param> OP col`, where OP is one of </<=/>/>=, and reports
// whether the bound constrains col from below or above.
func rangeBoundFrom(bin *Binary) (col *ColumnRef, bound Expr, lower, ok bool) {
	if ref, isRef := bin.Left.(*ColumnRef); isRef {
		switch bin.Op {
		case OpGt, OpGe:
			return ref, bin.Right, true, true
		case OpLt, OpLe:
			return ref, bin.Right, false, true
		}
	}
	if ref, isRef := bin.Right.(*ColumnRef); isRef {
		switch bin.Op {
		case OpLt, OpLe:
			return ref, bin.Left, true, true
		case OpGt, OpGe:
			return ref, bin.Left, false, true
		}
	}
	return nil, nil, false, false
}

func flattenAnd(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if and, ok := e.(*And); ok {
		return append(flattenAnd(and.Left), flattenAnd(and.Right)...)
	}
	return []Expr{e}
}

func indexKindFor(indexedCols map[string]map[string]storage.IndexKind, table, col string) (storage.IndexKind, bool) {
	kinds, ok := indexedCols[table]
	if !ok {
		return 0, false
	}
	kind, ok := kinds[col]
	return kind, ok
}

func refTable(ref *ColumnRef, stmt *SelectStmt) string {
	if ref.Table != "" {
		return ref.Table
	}
	return stmt.Alias
}

func truthy(v storage.Value) bool {
	return v.Kind == storage.KindBool && v.Bool
}

// EvalValue evaluates an arbitrary expression against bindings/params,
// exported for callers that build ad hoc expressions outside a compiled
// SELECT plan (the facade's INSERT value list and UPDATE SET clauses).
func EvalValue(e Expr, b Bindings, p Params) (storage.Value, error) {
	return evalExpr(e, b, p)
}

// Truthy reports whether a value is SQL boolean true.
func Truthy(v storage.Value) bool { return truthy(v) }

// ── Expression evaluation ──────────────────────────────────────────────
//
// evalExpr evaluates heterogeneous-Kind comparisons uniformly: every cell
// value carries a dynamic Kind rather than a static type, so comparison
// always goes through Value.Compare, which handles numeric widening and
// returns an error for otherwise-incomparable kinds.

func evalExpr(e Expr, b Bindings, p Params) (storage.Value, error) {
	switch ex := e.(type) {
	case *Literal:
		return literalValue(ex.Value), nil
	case *ColumnRef:
		return b.Resolve(ex)
	case *ParamRef:
		v, ok := p[ex.Name]
		if !ok {
			return storage.Value{}, fmt.Errorf("query: unbound parameter @%s", ex.Name)
		}
		return v, nil
	case *Binary:
		lv, err := evalExpr(ex.Left, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		rv, err := evalExpr(ex.Right, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		return evalComparison(ex.Op, lv, rv)
	case *And:
		lv, err := evalExpr(ex.Left, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		if !truthy(lv) {
			return storage.Bool(false), nil
		}
		rv, err := evalExpr(ex.Right, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		return storage.Bool(truthy(rv)), nil
	case *Or:
		lv, err := evalExpr(ex.Left, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		if truthy(lv) {
			return storage.Bool(true), nil
		}
		rv, err := evalExpr(ex.Right, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		return storage.Bool(truthy(rv)), nil
	case *Not:
		v, err := evalExpr(ex.Expr, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		return storage.Bool(!truthy(v)), nil
	case *In:
		target, err := evalExpr(ex.Target, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		found := false
		for _, item := range ex.List {
			iv, err := evalExpr(item, b, p)
			if err != nil {
				return storage.Value{}, err
			}
			if target.Equal(iv) {
				found = true
				break
			}
		}
		return storage.Bool(found != ex.Negate), nil
	case *Like:
		target, err := evalExpr(ex.Target, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		pat, err := evalExpr(ex.Pattern, b, p)
		if err != nil {
			return storage.Value{}, err
		}
		if target.Kind != storage.KindUTF8 || pat.Kind != storage.KindUTF8 {
			return storage.Value{}, fmt.Errorf("query: LIKE requires utf8 operands")
		}
		m := matchLike(target.S, pat.S)
		return storage.Bool(m != ex.Negate), nil
	default:
		return storage.Value{}, fmt.Errorf("query: unsupported expression %T", e)
	}
}

func literalValue(v any) storage.Value {
	switch t := v.(type) {
	case nil:
		return storage.Null
	case bool:
		return storage.Bool(t)
	case int64:
		return storage.I64(t)
	case float64:
		return storage.F64(t)
	case string:
		return storage.UTF8(t)
	default:
		return storage.Null
	}
}

func evalComparison(op CmpOp, lv, rv storage.Value) (storage.Value, error) {
	if lv.IsNull() || rv.IsNull() {
		return storage.Bool(false), nil // SQL NULL comparisons are never true
	}
	c, err := lv.Compare(rv)
	if err != nil {
		return storage.Value{}, err
	}
	switch op {
	case OpEq:
		return storage.Bool(c == 0), nil
	case OpNe:
		return storage.Bool(c != 0), nil
	case OpLt:
		return storage.Bool(c < 0), nil
	case OpLe:
		return storage.Bool(c <= 0), nil
	case OpGt:
		return storage.Bool(c > 0), nil
	case OpGe:
		return storage.Bool(c >= 0), nil
	default:
		return storage.Value{}, fmt.Errorf("query: unknown comparison operator")
	}
}

func matchLike(s, pattern string) bool {
	return likeMatch([]rune(s), []rune(pattern))
}

// likeMatch is a small recursive-descent matcher for SQL LIKE's `%`
// (any run of characters) and `_` (exactly one character) wildcards.
func likeMatch(s, pat []rune) bool {
	if len(pat) == 0 {
		return len(s) == 0
	}
	switch pat[0] {
	case '%':
		if likeMatch(s, pat[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if likeMatch(s[i+1:], pat[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatch(s[1:], pat[1:])
	default:
		if len(s) == 0 || s[0] != pat[0] {
			return false
		}
		return likeMatch(s[1:], pat[1:])
	}
}

// ── Compiled-plan cache ─────────────────────────────────────────────────

// CompiledQuery is one cached compilation, keyed by a fingerprint over
// (normalized SQL, schema version) in an LRU keyed by that fingerprint.
type CompiledQuery struct {
	SQL       string
	Statement Statement
	Params    *ParamDescriptor
	ParsedAt  time.Time
}

type cacheEntry struct {
	key string
	cq  *CompiledQuery
}

// Cache is a fingerprint-keyed, LRU-evicted cache of parsed statements.
// The fingerprint embeds the version of every table in the catalog, so
// creating a table changes every fingerprint; dropping a table evicts its
// entries through EvictSchema.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewCache creates a compiled-statement cache of the given capacity.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &Cache{entries: make(map[string]*list.Element, maxSize), order: list.New(), maxSize: maxSize}
}

// Fingerprint combines normalized SQL text with a schema-version vector so
// a stale plan is never served after a DDL change.
func Fingerprint(normalizedSQL string, schemaVersions map[string]uint32) string {
	fp := normalizedSQL
	for name, v := range schemaVersions {
		fp += fmt.Sprintf("|%s@%d", name, v)
	}
	return fp
}

// Compile parses sql (or returns the cached parse for an identical
// fingerprint) and extracts its parameters.
func (c *Cache) Compile(fingerprint, sql string) (*CompiledQuery, error) {
	c.mu.RLock()
	if elem, ok := c.entries[fingerprint]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		return elem.Value.(*cacheEntry).cq, nil
	}
	c.mu.RUnlock()

	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	params, err := ExtractParams(sql)
	if err != nil {
		return nil, err
	}
	cq := &CompiledQuery{SQL: sql, Statement: stmt, Params: params}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[fingerprint]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).cq, nil
	}
	if c.order.Len() >= c.maxSize {
		if tail := c.order.Back(); tail != nil {
			c.order.Remove(tail)
			delete(c.entries, tail.Value.(*cacheEntry).key)
		}
	}
	elem := c.order.PushFront(&cacheEntry{key: fingerprint, cq: cq})
	c.entries[fingerprint] = elem
	return cq, nil
}

// EvictSchema drops every cached entry whose fingerprint references name,
// forcing a recompile on next use (called after a DDL mutation).
func (c *Cache) EvictSchema(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.entries {
		if containsTable(key, name) {
			c.order.Remove(elem)
			delete(c.entries, key)
		}
	}
}

func containsTable(fingerprint, name string) bool {
	needle := "|" + name + "@"
	for i := 0; i+len(needle) <= len(fingerprint); i++ {
		if fingerprint[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// Size reports the number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
