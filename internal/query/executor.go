package query

import (
	"fmt"
	"sort"

	"github.com/sharpcoredb/sharpcoredb/internal/storage"
)

// EqualityIndex is the subset of index.Hash/index.BTree the executor
// needs to serve an index-hinted equality lookup.
type EqualityIndex interface {
	Lookup(values []storage.Value) []storage.RowLoc
}

// RangeIndex is additionally satisfied by an ordered (B-tree) index,
// letting the executor walk a [lo, hi] span instead of an equality match
// or a full scan. A hash index does not implement it.
type RangeIndex interface {
	EqualityIndex
	Range(lo, hi []storage.Value, fn func(key []storage.Value, loc storage.RowLoc) bool)
}

// TableHandle is everything the executor needs to read one table: its
// schema (for column resolution) and engine handle (for the scan/lookup
// path), plus whatever equality indexes are available on its columns.
type TableHandle struct {
	Name    string
	Schema  *storage.Schema
	Engine  *storage.Engine
	Indexes map[string]EqualityIndex // column name -> index
}

func (h *TableHandle) fetch(loc storage.RowLoc) (storage.Row, error) {
	row, err := h.Engine.GetAt(h.Name, loc)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	return row, err
}

// ExecuteSelect runs a compiled plan against the base table plus any
// joined tables: scan/index-lookup, filter inline, sort
// in place, apply offset/limit, then project.
func ExecuteSelect(stmt *SelectStmt, plan *CompiledPlan, params Params, tables map[string]*TableHandle) (names []string, rows []storage.Row, err error) {
	base, ok := tables[stmt.Alias]
	if !ok {
		return nil, nil, fmt.Errorf("query: unknown table %q", stmt.Alias)
	}

	var combined []Bindings
	err = scanBase(stmt.Alias, base, plan, params, func(row storage.Row) error {
		b := Bindings{{Alias: stmt.Alias, Schema: base.Schema, Row: row}}
		next, err := applyJoins(stmt.Joins, tables, b, params)
		if err != nil {
			return err
		}
		combined = append(combined, next...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var retained []Bindings
	for _, b := range combined {
		ok, err := plan.Filter(b, params)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			retained = append(retained, b)
		}
	}

	if len(plan.Sort) > 0 {
		var sortErr error
		sort.SliceStable(retained, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			for _, key := range plan.Sort {
				vi, err := key.Extract(retained[i], params)
				if err != nil {
					sortErr = err
					return false
				}
				vj, err := key.Extract(retained[j], params)
				if err != nil {
					sortErr = err
					return false
				}
				c, err := vi.Compare(vj)
				if err != nil {
					sortErr = err
					return false
				}
				if c == 0 {
					continue
				}
				if key.Dir == Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		if sortErr != nil {
			return nil, nil, sortErr
		}
	}

	start := plan.Offset
	if start > len(retained) {
		start = len(retained)
	}
	end := len(retained)
	if plan.HasLimit {
		lim := start + plan.Limit
		if lim < end {
			end = lim
		}
	}
	window := retained[start:end]

	rows = make([]storage.Row, 0, len(window))
	for _, b := range window {
		row, err := plan.Project(b, params)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return plan.ProjectNames, rows, nil
}

// scanBase walks the base table via an index hint when the plan names
// one targeting the base table, falling back to a full table scan. The
// hinted access path only narrows the candidate set — plan.Filter is still
// applied to every row it yields, so an inclusive Range scan standing in
// for a strict </> bound never leaks an out-of-range row to the caller.
func scanBase(alias string, t *TableHandle, plan *CompiledPlan, params Params, fn func(storage.Row) error) error {
	if plan.Hint != nil && plan.Hint.Table == alias {
		if idx, ok := t.Indexes[plan.Hint.Column]; ok {
			if plan.Hint.Eq != nil {
				return scanEqualityHint(t, idx, plan.Hint.Eq, params, fn)
			}
			if rangeIdx, ok := idx.(RangeIndex); ok {
				return scanRangeHint(t, rangeIdx, plan.Hint, params, fn)
			}
		}
	}
	return t.Engine.Scan(t.Name, func(_ storage.RowLoc, row storage.Row) (bool, error) {
		if err := fn(row); err != nil {
			return false, err
		}
		return true, nil
	})
}

func scanEqualityHint(t *TableHandle, idx EqualityIndex, eq Expr, params Params, fn func(storage.Row) error) error {
	eqVal, err := evalExpr(eq, nil, params)
	if err != nil {
		return err
	}
	for _, loc := range idx.Lookup([]storage.Value{eqVal}) {
		row, err := t.fetch(loc)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func scanRangeHint(t *TableHandle, idx RangeIndex, hint *IndexHint, params Params, fn func(storage.Row) error) error {
	var lo, hi []storage.Value
	if hint.Lo != nil {
		v, err := evalExpr(hint.Lo, nil, params)
		if err != nil {
			return err
		}
		lo = []storage.Value{v}
	}
	if hint.Hi != nil {
		v, err := evalExpr(hint.Hi, nil, params)
		if err != nil {
			return err
		}
		hi = []storage.Value{v}
	}
	var rangeErr error
	idx.Range(lo, hi, func(_ []storage.Value, loc storage.RowLoc) bool {
		row, err := t.fetch(loc)
		if err != nil {
			rangeErr = err
			return false
		}
		if row == nil {
			return true
		}
		if err := fn(row); err != nil {
			rangeErr = err
			return false
		}
		return true
	})
	return rangeErr
}

// applyJoins extends a partial binding set with each JOIN clause in turn.
// When the ON clause is a bare equality against a column the inner table
// has an index on, each outer row probes that index directly instead of
// scanning the inner table; otherwise it falls back to a nested-loop scan
// of the whole inner table. LEFT JOIN emits one row per outer row even
// with zero inner matches, binding the inner side's columns to NULL.
func applyJoins(joins []JoinClause, tables map[string]*TableHandle, seed Bindings, params Params) ([]Bindings, error) {
	results := []Bindings{seed}
	for _, jc := range joins {
		inner, ok := tables[jc.Alias]
		if !ok {
			return nil, fmt.Errorf("query: unknown joined table %q", jc.Alias)
		}

		var next []Bindings
		var err error
		usedIndex := false
		if col, outerExpr, ok := equiJoinOn(jc.On, jc.Alias); ok {
			if idx, ok := inner.Indexes[col]; ok {
				next, err = indexJoin(jc, inner, idx, outerExpr, results, params)
				usedIndex = true
			}
		}
		if !usedIndex && err == nil {
			next, err = nestedLoopJoin(jc, inner, results, params)
		}
		if err != nil {
			return nil, err
		}
		results = next
	}
	return results, nil
}

// equiJoinOn recognizes a bare `outerExpr = innerAlias.col` ON clause
// (either operand order) and returns the inner column name plus the
// expression that produces the probe value from the outer bindings. A
// compound ON clause (AND of several conditions) is left to the
// nested-loop path, which evaluates it in full.
func equiJoinOn(on Expr, innerAlias string) (col string, outerExpr Expr, ok bool) {
	bin, isBin := on.(*Binary)
	if !isBin || bin.Op != OpEq {
		return "", nil, false
	}
	if ref, isRef := bin.Left.(*ColumnRef); isRef && ref.Table == innerAlias {
		return ref.Name, bin.Right, true
	}
	if ref, isRef := bin.Right.(*ColumnRef); isRef && ref.Table == innerAlias {
		return ref.Name, bin.Left, true
	}
	return "", nil, false
}

// indexJoin probes idx once per outer binding instead of scanning every
// row of the inner table, the nested-loop-with-index-lookup strategy for
// an equi-join against an indexed column.
func indexJoin(jc JoinClause, inner *TableHandle, idx EqualityIndex, outerExpr Expr, outer []Bindings, params Params) ([]Bindings, error) {
	var next []Bindings
	for _, left := range outer {
		probe, err := evalExpr(outerExpr, left, params)
		if err != nil {
			return nil, err
		}
		matched := false
		if !probe.IsNull() {
			for _, loc := range idx.Lookup([]storage.Value{probe}) {
				row, err := inner.fetch(loc)
				if err != nil {
					return nil, err
				}
				if row == nil {
					continue
				}
				candidate := append(append(Bindings{}, left...), Binding{Alias: jc.Alias, Schema: inner.Schema, Row: row})
				ok, err := evalJoinCond(jc.On, candidate, params)
				if err != nil {
					return nil, err
				}
				if ok {
					matched = true
					next = append(next, candidate)
				}
			}
		}
		if !matched && jc.Kind == LeftJoin {
			next = append(next, append(append(Bindings{}, left...), Binding{Alias: jc.Alias, Schema: inner.Schema, Row: nil}))
		}
	}
	return next, nil
}

func nestedLoopJoin(jc JoinClause, inner *TableHandle, outer []Bindings, params Params) ([]Bindings, error) {
	var next []Bindings
	for _, left := range outer {
		matched := false
		err := inner.Engine.Scan(inner.Name, func(_ storage.RowLoc, row storage.Row) (bool, error) {
			candidate := append(append(Bindings{}, left...), Binding{Alias: jc.Alias, Schema: inner.Schema, Row: row})
			ok, err := evalJoinCond(jc.On, candidate, params)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				next = append(next, candidate)
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		if !matched && jc.Kind == LeftJoin {
			next = append(next, append(append(Bindings{}, left...), Binding{Alias: jc.Alias, Schema: inner.Schema, Row: nil}))
		}
	}
	return next, nil
}

func evalJoinCond(on Expr, b Bindings, params Params) (bool, error) {
	v, err := evalExpr(on, b, params)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}
