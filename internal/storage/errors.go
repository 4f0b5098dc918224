package storage

import "errors"

// Sentinel errors for the constraint-violation family of
// user-visible error codes.
var (
	ErrPrimaryKey  = errors.New("storage: constraint_violation:primary_key")
	ErrNotNull     = errors.New("storage: constraint_violation:not_null")
	ErrSchemaError = errors.New("storage: schema_error")
	ErrNotFound    = errors.New("storage: row not found")
)
