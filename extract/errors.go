package extract

import "github.com/meigma/untard/extract/internal/archivetype"

// Errors re-exported from archivetype.
var (
	// ErrDecompression is returned when the gzip stream is invalid. It
	// aborts the field.
	ErrDecompression = archivetype.ErrDecompression

	// ErrContainerParse is returned when a tar header cannot be read. It
	// aborts the remaining entries of the field.
	ErrContainerParse = archivetype.ErrContainerParse

	// ErrPathViolation is returned when an entry path is unsafe. Only the
	// offending entry fails.
	ErrPathViolation = archivetype.ErrPathViolation

	// ErrMaterialize is returned when a directory or file cannot be created.
	ErrMaterialize = archivetype.ErrMaterialize

	// ErrFileTooLarge is returned alongside ErrMaterialize when a file
	// exceeds the configured size limit.
	ErrFileTooLarge = archivetype.ErrFileTooLarge
)
