package archivetype

import "errors"

// Sentinel errors for extraction.
var (
	// ErrDecompression is returned when the compressed stream is invalid.
	ErrDecompression = errors.New("extract: decompression failed")

	// ErrContainerParse is returned when an archive header cannot be read.
	ErrContainerParse = errors.New("extract: malformed archive")

	// ErrPathViolation is returned when an entry path is unsafe or would
	// resolve outside the destination root.
	ErrPathViolation = errors.New("extract: unsafe entry path")

	// ErrMaterialize is returned when a filesystem object cannot be created.
	ErrMaterialize = errors.New("extract: materialization failed")

	// ErrFileTooLarge is returned when an entry's content exceeds the
	// configured per-file limit.
	ErrFileTooLarge = errors.New("extract: file too large")
)
