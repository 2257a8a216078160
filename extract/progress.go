package extract

import "github.com/meigma/untard/extract/internal/archivetype"

// Re-export progress types from archivetype.
type (
	// ProgressEvent represents a progress update during extraction.
	ProgressEvent = archivetype.ProgressEvent

	// ProgressStage identifies the current phase of an extraction.
	ProgressStage = archivetype.ProgressStage

	// ProgressFunc receives progress updates during extraction.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = archivetype.ProgressFunc
)

// Re-export progress stage constants.
const (
	// StageDecompressing indicates a field's payload is being opened.
	StageDecompressing = archivetype.StageDecompressing

	// StageExtracting indicates an entry reached a terminal state.
	StageExtracting = archivetype.StageExtracting

	// StageFinished indicates the field is done, successfully or not.
	StageFinished = archivetype.StageFinished
)
