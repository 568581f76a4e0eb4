package store

import "errors"

// ErrNotFound is returned when a task or subtask id has no matching row.
var ErrNotFound = errors.New("store: not found")
