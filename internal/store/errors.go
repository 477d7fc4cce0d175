package store

import "errors"

// ErrNotFound is returned when an operation references a project or revision
// id absent from its table. Callers must get this rather than a zero row.
var ErrNotFound = errors.New("not found")
