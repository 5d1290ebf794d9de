package core

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique constraint rejects a write.
	ErrAlreadyExists = errors.New("already exists")
	// ErrMalformedResponse marks an external response that could not be parsed.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrFatalConfig marks configuration problems that must abort a run.
	ErrFatalConfig = errors.New("fatal configuration error")
)
