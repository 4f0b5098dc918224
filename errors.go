package sharpcoredb

import (
	"errors"
	"fmt"

	"github.com/sharpcoredb/sharpcoredb/internal/index"
	"github.com/sharpcoredb/sharpcoredb/internal/pager"
	"github.com/sharpcoredb/sharpcoredb/internal/query"
	"github.com/sharpcoredb/sharpcoredb/internal/storage"
)

// Code is one of the user-visible error codes an Error can carry.
type Code string

const (
	CodeOK                  Code = "ok"
	CodeSyntaxError         Code = "syntax_error"
	CodeSchemaError         Code = "schema_error"
	CodePrimaryKeyViolation Code = "constraint_violation:primary_key"
	CodeNotNullViolation    Code = "constraint_violation:not_null"
	CodeIOError             Code = "io_error"
	CodeCacheFull           Code = "cache_full"
	CodeTimeout             Code = "timeout"
	CodeRecoveryRequired    Code = "recovery_required"
)

// Error wraps an underlying failure with its user-visible classification.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// classify maps an internal error into the user-visible error-code
// taxonomy. Errors that match no known sentinel are reported as
// CodeSchemaError.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var se *query.SyntaxError
	switch {
	case errors.As(err, &se):
		return &Error{Code: CodeSyntaxError, Err: err}
	case errors.Is(err, storage.ErrPrimaryKey):
		return &Error{Code: CodePrimaryKeyViolation, Err: err}
	case errors.Is(err, storage.ErrNotNull):
		return &Error{Code: CodeNotNullViolation, Err: err}
	case errors.Is(err, storage.ErrSchemaError), errors.Is(err, storage.ErrNotFound):
		return &Error{Code: CodeSchemaError, Err: err}
	case errors.Is(err, index.ErrUniqueViolation):
		return &Error{Code: CodePrimaryKeyViolation, Err: err}
	case errors.Is(err, pager.ErrIO):
		return &Error{Code: CodeIOError, Err: err}
	case errors.Is(err, pager.ErrCorruption):
		return &Error{Code: CodeRecoveryRequired, Err: err}
	case errors.Is(err, pager.ErrCacheFull):
		return &Error{Code: CodeCacheFull, Err: err}
	default:
		return &Error{Code: CodeSchemaError, Err: err}
	}
}
