package query

import (
	"strconv"
	"strings"
)

// parser is a recursive-descent parser over a deliberately narrow SQL
// surface: CREATE TABLE, CREATE [UNIQUE] INDEX, DROP, INSERT (multi-row),
// UPDATE, DELETE, and SELECT with JOIN/WHERE/ORDER BY/OFFSET/LIMIT. It
// produces the Statement/Expr trees the compiler consumes.
type parser struct {
	lx   *lexer
	tok  token
	peek *token
}

// Parse parses one SQL statement.
func Parse(sql string) (Statement, error) {
	p := &parser{lx: newLexer(sql)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.tok.Typ == tSymbol && p.tok.Val == ";" {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.tok.Typ != tEOF {
		return nil, &SyntaxError{Pos: p.tok.Pos, Msg: "unexpected trailing input"}
	}
	return stmt, nil
}

func (p *parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	t, err := p.lx.nextToken()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) isKeyword(kw string) bool {
	return p.tok.Typ == tKeyword && p.tok.Val == kw
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return &SyntaxError{Pos: p.tok.Pos, Msg: "expected " + kw}
	}
	return p.advance()
}

func (p *parser) expectSymbol(sym string) error {
	if p.tok.Typ != tSymbol || p.tok.Val != sym {
		return &SyntaxError{Pos: p.tok.Pos, Msg: "expected '" + sym + "'"}
	}
	return p.advance()
}

func (p *parser) expectIdent() (string, error) {
	if p.tok.Typ != tIdent {
		return "", &SyntaxError{Pos: p.tok.Pos, Msg: "expected identifier"}
	}
	v := p.tok.Val
	return v, p.advance()
}

func (p *parser) parseStatement() (Statement, error) {
	switch {
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDrop()
	default:
		return nil, &SyntaxError{Pos: p.tok.Pos, Msg: "expected a statement keyword"}
	}
}

// ── CREATE / DROP ──────────────────────────────────────────────────────

func (p *parser) parseCreate() (Statement, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	unique := false
	if p.isKeyword("UNIQUE") {
		unique = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	switch {
	case p.isKeyword("TABLE"):
		return p.parseCreateTable()
	case p.isKeyword("INDEX"):
		return p.parseCreateIndex(unique)
	default:
		return nil, &SyntaxError{Pos: p.tok.Pos, Msg: "expected TABLE or INDEX"}
	}
}

func (p *parser) parseCreateTable() (*CreateTableStmt, error) {
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	stmt := &CreateTableStmt{Table: name}
	for {
		colName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if p.tok.Typ != tKeyword {
			return nil, &SyntaxError{Pos: p.tok.Pos, Msg: "expected a column type"}
		}
		typ := p.tok.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
		col := ColumnDef{Name: colName, Type: typ, Nullable: true}
		for {
			switch {
			case p.isKeyword("NOT"):
				if err := p.advance(); err != nil {
					return nil, err
				}
				if err := p.expectKeyword("NULL"); err != nil {
					return nil, err
				}
				col.Nullable = false
			case p.isKeyword("PRIMARY"):
				if err := p.advance(); err != nil {
					return nil, err
				}
				if err := p.expectKeyword("KEY"); err != nil {
					return nil, err
				}
				col.PrimaryKey = true
				col.Nullable = false
			default:
				goto doneMods
			}
		}
	doneMods:
		stmt.Columns = append(stmt.Columns, col)
		if p.tok.Typ == tSymbol && p.tok.Val == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseCreateIndex(unique bool) (*CreateIndexStmt, error) {
	if err := p.expectKeyword("INDEX"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &CreateIndexStmt{Name: name, Table: table, Unique: unique, Kind: "btree"}
	if p.isKeyword("HASH") {
		stmt.Kind = "hash"
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else if p.isKeyword("BTREE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.tok.Typ == tSymbol && p.tok.Val == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return stmt, p.expectSymbol(")")
}

func (p *parser) parseDrop() (*DropStmt, error) {
	if err := p.expectKeyword("DROP"); err != nil {
		return nil, err
	}
	var kind string
	switch {
	case p.isKeyword("TABLE"):
		kind = "table"
	case p.isKeyword("INDEX"):
		kind = "index"
	default:
		return nil, &SyntaxError{Pos: p.tok.Pos, Msg: "expected TABLE or INDEX"}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &DropStmt{Kind: kind, Name: name}, nil
}

// ── INSERT / UPDATE / DELETE ───────────────────────────────────────────

func (p *parser) parseInsert() (*InsertStmt, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{Table: table}
	if p.tok.Typ == tSymbol && p.tok.Val == "(" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for {
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.tok.Typ == tSymbol && p.tok.Val == "," {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.tok.Typ == tSymbol && p.tok.Val == "," {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.tok.Typ == tSymbol && p.tok.Val == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return stmt, nil
}

func (p *parser) parseUpdate() (*UpdateStmt, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{Table: table, Set: make(map[string]Expr)}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Set[col] = val
		if p.tok.Typ == tSymbol && p.tok.Val == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	return stmt, nil
}

func (p *parser) parseDelete() (*DeleteStmt, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{Table: table}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	return stmt, nil
}

// ── SELECT ──────────────────────────────────────────────────────────────

func (p *parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	stmt := &SelectStmt{}
	if p.tok.Typ == tSymbol && p.tok.Val == "*" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		stmt.Columns = nil // nil means "*"
	} else {
		for {
			item, err := p.parseProjectItem()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, item)
			if p.tok.Typ == tSymbol && p.tok.Val == "," {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt.From = table
	stmt.Alias = table
	if p.isKeyword("AS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		alias, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		stmt.Alias = alias
	} else if p.tok.Typ == tIdent {
		stmt.Alias = p.tok.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	for p.isKeyword("JOIN") || p.isKeyword("LEFT") || p.isKeyword("INNER") {
		jc, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, jc)
	}

	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.isKeyword("ORDER") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			dir := Asc
			if p.isKeyword("ASC") {
				if err := p.advance(); err != nil {
					return nil, err
				}
			} else if p.isKeyword("DESC") {
				dir = Desc
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			stmt.Order = append(stmt.Order, OrderTerm{Col: col, Dir: dir})
			if p.tok.Typ == tSymbol && p.tok.Val == "," {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if p.isKeyword("OFFSET") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expectIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Offset = n
	}
	if p.isKeyword("LIMIT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expectIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = n
		stmt.HasLim = true
	}
	return stmt, nil
}

func (p *parser) expectIntLiteral() (int, error) {
	if p.tok.Typ != tNumber {
		return 0, &SyntaxError{Pos: p.tok.Pos, Msg: "expected a number"}
	}
	n, err := strconv.Atoi(p.tok.Val)
	if err != nil {
		return 0, &SyntaxError{Pos: p.tok.Pos, Msg: "invalid integer literal"}
	}
	return n, p.advance()
}

func (p *parser) parseProjectItem() (ProjectItem, error) {
	e, err := p.parseExpr()
	if err != nil {
		return ProjectItem{}, err
	}
	item := ProjectItem{Expr: e}
	if cr, ok := e.(*ColumnRef); ok {
		item.Alias = cr.Name
	}
	if p.isKeyword("AS") {
		if err := p.advance(); err != nil {
			return ProjectItem{}, err
		}
		alias, err := p.expectIdent()
		if err != nil {
			return ProjectItem{}, err
		}
		item.Alias = alias
	}
	return item, nil
}

func (p *parser) parseJoin() (JoinClause, error) {
	kind := InnerJoin
	if p.isKeyword("LEFT") {
		kind = LeftJoin
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
		if p.isKeyword("OUTER") {
			if err := p.advance(); err != nil {
				return JoinClause{}, err
			}
		}
	} else if p.isKeyword("INNER") {
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return JoinClause{}, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return JoinClause{}, err
	}
	jc := JoinClause{Kind: kind, Table: table, Alias: table}
	if p.isKeyword("AS") {
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
		alias, err := p.expectIdent()
		if err != nil {
			return JoinClause{}, err
		}
		jc.Alias = alias
	} else if p.tok.Typ == tIdent {
		jc.Alias = p.tok.Val
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
	}
	if err := p.expectKeyword("ON"); err != nil {
		return JoinClause{}, err
	}
	on, err := p.parseExpr()
	if err != nil {
		return JoinClause{}, err
	}
	jc.On = on
	return jc, nil
}

// ── Expressions (precedence climbing: OR < AND < NOT < comparison < primary) ──

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.isKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch {
	case p.tok.Typ == tSymbol && isCmpSymbol(p.tok.Val):
		op := cmpOpFor(p.tok.Val)
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: op, Left: left, Right: right}, nil
	case p.isKeyword("IN"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseInList(left, false)
	case p.isKeyword("NOT"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isKeyword("IN") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			return p.parseInList(left, true)
		}
		if p.isKeyword("LIKE") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			pat, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return &Like{Target: left, Pattern: pat, Negate: true}, nil
		}
		return nil, &SyntaxError{Pos: p.tok.Pos, Msg: "expected IN or LIKE after NOT"}
	case p.isKeyword("LIKE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		pat, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Like{Target: left, Pattern: pat}, nil
	default:
		return left, nil
	}
}

func (p *parser) parseInList(target Expr, negate bool) (Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	in := &In{Target: target, Negate: negate}
	for {
		e, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		in.List = append(in.List, e)
		if p.tok.Typ == tSymbol && p.tok.Val == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return in, p.expectSymbol(")")
}

func isCmpSymbol(s string) bool {
	switch s {
	case "=", "!=", "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}

func cmpOpFor(s string) CmpOp {
	switch s {
	case "=":
		return OpEq
	case "!=":
		return OpNe
	case "<":
		return OpLt
	case "<=":
		return OpLe
	case ">":
		return OpGt
	case ">=":
		return OpGe
	default:
		return OpEq
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	switch {
	case p.tok.Typ == tSymbol && p.tok.Val == "(":
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.tok.Typ == tNumber:
		v := p.tok.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
		if strings.Contains(v, ".") {
			f, _ := strconv.ParseFloat(v, 64)
			return &Literal{Value: f}, nil
		}
		n, _ := strconv.ParseInt(v, 10, 64)
		return &Literal{Value: n}, nil
	case p.tok.Typ == tString:
		v := p.tok.Val
		return &Literal{Value: v}, p.advance()
	case p.tok.Typ == tParam:
		v := p.tok.Val
		return &ParamRef{Name: v}, p.advance()
	case p.isKeyword("TRUE"):
		return &Literal{Value: true}, p.advance()
	case p.isKeyword("FALSE"):
		return &Literal{Value: false}, p.advance()
	case p.isKeyword("NULL"):
		return &Literal{Value: nil}, p.advance()
	case p.tok.Typ == tIdent:
		name := p.tok.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.Typ == tSymbol && p.tok.Val == "." {
			if err := p.advance(); err != nil {
				return nil, err
			}
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			return &ColumnRef{Table: name, Name: col}, nil
		}
		return &ColumnRef{Name: name}, nil
	default:
		return nil, &SyntaxError{Pos: p.tok.Pos, Msg: "expected an expression"}
	}
}
