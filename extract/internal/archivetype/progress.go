package archivetype

// EntryState is the terminal state of a processed entry.
type EntryState uint8

const (
	// StateDone means the directory was created or the file was written.
	StateDone EntryState = iota

	// StateSkipped means the entry type has no filesystem effect.
	StateSkipped

	// StateFailed means the entry could not be resolved or materialized.
	StateFailed
)

// String returns the string representation of the state.
func (s EntryState) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressStage identifies the current phase of an extraction.
type ProgressStage uint8

// Progress stages for a single archive field.
const (
	// StageDecompressing indicates a field's payload is being opened.
	StageDecompressing ProgressStage = iota

	// StageExtracting indicates an entry reached a terminal state.
	StageExtracting

	// StageFinished indicates the field is done, successfully or not.
	StageFinished
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageDecompressing:
		return "decompressing"
	case StageExtracting:
		return "extracting"
	case StageFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ProgressEvent represents a progress update during extraction.
type ProgressEvent struct {
	// Stage identifies the current phase.
	Stage ProgressStage

	// Field is the name of the archive field being processed.
	Field string

	// Path is the declared archive path of the entry, if applicable.
	Path string

	// Target is the resolved destination path, if one was computed.
	Target string

	// State is the terminal entry state. Only meaningful for StageExtracting.
	State EntryState

	// BytesDone is the number of content bytes written so far in the field.
	BytesDone uint64

	// FilesDone is the number of entries that reached a terminal state.
	FilesDone int
}

// ProgressFunc receives progress updates during extraction.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
