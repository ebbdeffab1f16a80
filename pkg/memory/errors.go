package memory

import "errors"

var (
	// ErrConfiguration indicates missing or invalid settings. It is the only
	// failure surfaced by service construction.
	ErrConfiguration = errors.New("memory configuration invalid")
	ErrExtraction    = errors.New("memory extraction failed")
	ErrValidation    = errors.New("memory record invalid")
	ErrStorage       = errors.New("memory storage failed")
	ErrVectorBackend = errors.New("vector backend failed")

	// ErrInvalidKind is returned for a bucket name other than user or session.
	ErrInvalidKind   = errors.New("invalid memory kind")
	ErrInvalidImport = errors.New("invalid memory import")
)
