package index

import "errors"

// ErrUniqueViolation is returned when an insert into a unique index would
// duplicate an existing key ( constraint_violation family).
var ErrUniqueViolation = errors.New("index: unique constraint violation")
