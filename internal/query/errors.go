package query

import "fmt"

// SyntaxError reports a lexing or parsing failure at a byte offset into
// the original SQL text.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query: syntax error at byte %d: %s", e.Pos, e.Msg)
}
