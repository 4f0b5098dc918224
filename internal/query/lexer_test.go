package query

import "testing"

func TestLexerSkipsLineAndBlockComments(t *testing.T) {
	lx := newLexer("-- a comment\nSELECT /* inline */ 1")
	tok, err := lx.nextToken()
	if err != nil {
		t.Fatalf("nextToken: %v", err)
	}
	if tok.Typ != tKeyword || tok.Val != "SELECT" {
		t.Fatalf("first token = %+v, want SELECT keyword", tok)
	}
	tok, err = lx.nextToken()
	if err != nil {
		t.Fatalf("nextToken: %v", err)
	}
	if tok.Typ != tNumber || tok.Val != "1" {
		t.Errorf("second token = %+v, want number 1", tok)
	}
}

func TestLexerTokenizesParam(t *testing.T) {
	lx := newLexer("@name")
	tok, err := lx.nextToken()
	if err != nil {
		t.Fatalf("nextToken: %v", err)
	}
	if tok.Typ != tParam || tok.Val != "name" {
		t.Errorf("token = %+v, want param 'name'", tok)
	}
}

func TestLexerRejectsEmptyParamName(t *testing.T) {
	lx := newLexer("@ ")
	if _, err := lx.nextToken(); err == nil {
		t.Error("nextToken on '@' with no name, want an error")
	}
}

func TestLexerRejectsParamStartingWithDigit(t *testing.T) {
	lx := newLexer("@1abc")
	if _, err := lx.nextToken(); err == nil {
		t.Error("nextToken on '@1abc', want an error")
	}
}

func TestLexerStringLiteralEscapesQuote(t *testing.T) {
	lx := newLexer("'it''s'")
	tok, err := lx.nextToken()
	if err != nil {
		t.Fatalf("nextToken: %v", err)
	}
	if tok.Typ != tString || tok.Val != "it's" {
		t.Errorf("token = %+v, want string \"it's\"", tok)
	}
}

func TestLexerUnterminatedStringIsError(t *testing.T) {
	lx := newLexer("'unterminated")
	if _, err := lx.nextToken(); err == nil {
		t.Error("nextToken on an unterminated string, want an error")
	}
}

func TestLexerQuotedIdentifier(t *testing.T) {
	lx := newLexer(`"weird column"`)
	tok, err := lx.nextToken()
	if err != nil {
		t.Fatalf("nextToken: %v", err)
	}
	if tok.Typ != tIdent || tok.Val != "weird column" {
		t.Errorf("token = %+v, want ident 'weird column'", tok)
	}
}

func TestLexerTwoCharSymbols(t *testing.T) {
	cases := map[string]string{"<=": "<=", ">=": ">=", "!=": "!=", "<>": "<>", "<": "<"}
	for input, want := range cases {
		lx := newLexer(input)
		tok, err := lx.nextToken()
		if err != nil {
			t.Fatalf("nextToken(%q): %v", input, err)
		}
		if tok.Val != want {
			t.Errorf("nextToken(%q) = %q, want %q", input, tok.Val, want)
		}
	}
}

func TestLexerKeywordCaseInsensitive(t *testing.T) {
	lx := newLexer("select")
	tok, err := lx.nextToken()
	if err != nil {
		t.Fatalf("nextToken: %v", err)
	}
	if tok.Typ != tKeyword || tok.Val != "SELECT" {
		t.Errorf("token = %+v, want keyword SELECT", tok)
	}
}

func TestLexerEOF(t *testing.T) {
	lx := newLexer("   ")
	tok, err := lx.nextToken()
	if err != nil {
		t.Fatalf("nextToken: %v", err)
	}
	if tok.Typ != tEOF {
		t.Errorf("token = %+v, want EOF", tok)
	}
}
