package jsonl

import "errors"

// Error variables for storage operations.
var (
	// ErrWriterClosed is returned by writer operations after Close or Finish.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrStartLine is returned when a reader is opened with a start line < 1.
	ErrStartLine = errors.New("start line must be >= 1")

	// ErrNilFS is returned by constructors given a nil filesystem.
	ErrNilFS = errors.New("fs is nil")
)
