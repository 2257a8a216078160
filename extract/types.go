package extract

import (
	"github.com/opencontainers/go-digest"

	"github.com/meigma/untard/extract/internal/archivetype"
)

// Re-export entry types from archivetype.
type (
	// Entry is one header+payload unit read from an archive.
	Entry = archivetype.Entry

	// EntryType classifies an entry for materialization.
	EntryType = archivetype.EntryType

	// EntryState is the terminal state of a processed entry.
	EntryState = archivetype.EntryState
)

// Entry types.
const (
	TypeOther     = archivetype.TypeOther
	TypeRegular   = archivetype.TypeRegular
	TypeDirectory = archivetype.TypeDirectory
)

// Entry states.
const (
	StateDone    = archivetype.StateDone
	StateSkipped = archivetype.StateSkipped
	StateFailed  = archivetype.StateFailed
)

// EntryResult records the outcome of one archive entry.
type EntryResult struct {
	// Path is the path declared by the archive.
	Path string

	// Target is the resolved destination. Empty if resolution failed or
	// the entry was skipped.
	Target string

	// Type is the entry's type.
	Type EntryType

	// State is the terminal state.
	State EntryState

	// Size is the number of content bytes written. Zero for directories.
	Size int64

	// Digest is the digest of the written content. Regular files only.
	Digest digest.Digest

	// Err is the failure cause when State is StateFailed.
	Err error
}

// FieldResult records the outcome of extracting one archive payload.
type FieldResult struct {
	// Name identifies the field, typically the multipart form name or file name.
	Name string

	// Entries holds one result per attempted entry, in archive order.
	Entries []EntryResult

	// Err is the error that stopped the field early, if any. Per-entry
	// failures that did not stop the field are only in Entries.
	Err error

	// Done, Skipped and Failed count entries by terminal state.
	Done    int
	Skipped int
	Failed  int

	// Bytes is the total content written.
	Bytes int64
}

// Aborted reports whether the field stopped before the end of the archive.
func (r *FieldResult) Aborted() bool {
	return r.Err != nil
}

// Failures returns the entries that failed.
func (r *FieldResult) Failures() []EntryResult {
	var failed []EntryResult
	for _, e := range r.Entries {
		if e.State == StateFailed {
			failed = append(failed, e)
		}
	}
	return failed
}

func (r *FieldResult) record(e EntryResult) {
	r.Entries = append(r.Entries, e)
	switch e.State {
	case StateDone:
		r.Done++
		r.Bytes += e.Size
	case StateSkipped:
		r.Skipped++
	case StateFailed:
		r.Failed++
	}
}
