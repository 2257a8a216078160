package extract

import (
	"fmt"
	"log/slog"
	"strings"
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger for extraction progress and failures.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithProgress sets a callback that receives extraction progress events.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Extractor) {
		e.progress = fn
	}
}

// WithFailurePolicy selects which materialization failures stop a field.
// The default is PolicyDirAborts.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Extractor) {
		e.policy = p
	}
}

// WithMaxFileSize limits the content written for a single file.
// Set limit to 0 to disable the limit (the default).
func WithMaxFileSize(limit int64) Option {
	return func(e *Extractor) {
		e.maxFileSize = limit
	}
}

// WithPreserveMode applies archive permission bits to extracted files.
// By default, modes are not preserved (files use umask defaults).
func WithPreserveMode(preserve bool) Option {
	return func(e *Extractor) {
		e.preserveMode = preserve
	}
}

// WithPreserveTimes applies archive modification times to extracted files.
// By default, times are not preserved (files use current time).
func WithPreserveTimes(preserve bool) Option {
	return func(e *Extractor) {
		e.preserveTimes = preserve
	}
}

// WithDirectWrites writes files in place instead of through a temp file
// and rename. A failed write can then leave a truncated file behind.
func WithDirectWrites(enabled bool) Option {
	return func(e *Extractor) {
		e.directWrite = enabled
	}
}

// WithParallelDecompression decodes gzip ahead of the tar reader on
// background goroutines, keeping up to blocks blocks of blockSize bytes in
// flight. Values of blocks < 2 keep single-threaded decoding (the
// default); blockSize <= 0 uses 1 MiB.
func WithParallelDecompression(blocks, blockSize int) Option {
	return func(e *Extractor) {
		e.parallelBlocks = blocks
		e.parallelBlockSize = blockSize
	}
}

// FailurePolicy decides which materialization failures abort the rest of
// a field. Path violations never abort.
type FailurePolicy uint8

const (
	// PolicyDirAborts continues after a file failure but aborts the field
	// after a directory failure, since later files likely need it.
	PolicyDirAborts FailurePolicy = iota

	// PolicyContinue never aborts on a materialization failure.
	PolicyContinue

	// PolicyAbortField aborts the field on any materialization failure.
	PolicyAbortField
)

// String returns the string representation of the policy.
func (p FailurePolicy) String() string {
	switch p {
	case PolicyDirAborts:
		return "dir-aborts"
	case PolicyContinue:
		return "continue"
	case PolicyAbortField:
		return "abort-field"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy parses the String form of a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dir-aborts":
		return PolicyDirAborts, nil
	case "continue":
		return PolicyContinue, nil
	case "abort-field":
		return PolicyAbortField, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

// aborts reports whether a materialization failure of an entry of type t
// stops the field.
func (p FailurePolicy) aborts(t EntryType) bool {
	switch p {
	case PolicyContinue:
		return false
	case PolicyAbortField:
		return true
	default:
		return t == TypeDirectory
	}
}
