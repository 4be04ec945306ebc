package progress

import "errors"

var (
	// ErrNoSnapshot is returned by Load when no progress file exists yet.
	ErrNoSnapshot = errors.New("no progress snapshot")
	// ErrCorruptSnapshot is returned by Load when the progress file cannot be parsed.
	ErrCorruptSnapshot = errors.New("corrupt progress snapshot")
	// ErrMissingColumn is returned when a required column is absent from a CSV header.
	ErrMissingColumn = errors.New("missing column")
)
