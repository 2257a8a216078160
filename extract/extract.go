package extract

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/meigma/untard/extract/internal/container"
	"github.com/meigma/untard/extract/internal/decompress"
	"github.com/meigma/untard/extract/internal/materialize"
)

// Extractor materializes gzip-compressed tar archives under a fixed root.
//
// An Extractor is safe for concurrent use. Calls share no locks: when
// concurrent extractions write the same path, the last write wins.
type Extractor struct {
	resolver          *Resolver
	pool              *decompress.Pool
	logger            *slog.Logger
	progress          ProgressFunc
	policy            FailurePolicy
	maxFileSize       int64
	preserveMode      bool
	preserveTimes     bool
	directWrite       bool
	parallelBlocks    int
	parallelBlockSize int
}

// New creates an Extractor writing below root, creating root if needed.
func New(root string, opts ...Option) (*Extractor, error) {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}

	resolver, err := NewResolver(root)
	if err != nil {
		return nil, err
	}
	e.resolver = resolver
	e.pool = decompress.NewPool(
		decompress.WithParallelBlocks(e.parallelBlocks),
		decompress.WithBlockSize(e.parallelBlockSize),
	)

	e.log().Debug("extractor ready",
		"root", resolver.Root(),
		"policy", e.policy.String(),
		"parallel_decompression", e.pool.Parallel(),
	)
	return e, nil
}

// Root returns the canonical absolute destination root.
func (e *Extractor) Root() string {
	return e.resolver.Root()
}

// log returns the logger, falling back to a discard logger if nil.
func (e *Extractor) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}

// report sends a progress event if a callback is configured.
func (e *Extractor) report(event ProgressEvent) {
	if e.progress != nil {
		e.progress(event)
	}
}

// ExtractAll extracts each field in order. A failed field never prevents
// the next one from being attempted.
func (e *Extractor) ExtractAll(fields iter.Seq2[string, io.Reader]) []*FieldResult {
	var results []*FieldResult
	for name, r := range fields {
		results = append(results, e.Extract(name, r))
	}
	return results
}

// Extract decompresses r, reads it as a tar archive, and materializes its
// entries in archive order.
//
// Extract never returns early on a per-entry failure unless the failure
// policy says so; the returned FieldResult records every attempted entry.
// A field-level failure (bad gzip stream, malformed header, aborting
// materialization failure) is recorded in FieldResult.Err. Entries
// written before the failure stay on disk.
func (e *Extractor) Extract(name string, r io.Reader) *FieldResult {
	res := &FieldResult{Name: name}
	log := e.log().With("field", name)

	e.report(ProgressEvent{Stage: StageDecompressing, Field: name})
	defer e.finish(res, log)

	stream, release, err := e.pool.Get(r)
	if err != nil {
		res.Err = err
		return res
	}
	defer release()

	sink, err := materialize.Open(e.resolver.Root(), e.sinkOptions()...)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrMaterialize, err)
		return res
	}
	defer sink.Close()

	entries := container.NewReader(stream)
	for {
		entry, err := entries.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Err = err
			return res
		}

		result, abort := e.extractEntry(sink, entry, log)
		res.record(result)
		e.report(ProgressEvent{
			Stage:     StageExtracting,
			Field:     name,
			Path:      result.Path,
			Target:    result.Target,
			State:     result.State,
			BytesDone: uint64(res.Bytes), //nolint:gosec // Bytes is a sum of non-negative counts
			FilesDone: len(res.Entries),
		})
		if abort != nil {
			res.Err = abort
			return res
		}
	}

	// Read through the end of the gzip member so its checksum is verified.
	if _, err := io.Copy(io.Discard, stream); err != nil {
		res.Err = err
	}
	return res
}

// finish logs the field summary and reports the final progress event.
func (e *Extractor) finish(res *FieldResult, log *slog.Logger) {
	if res.Err != nil {
		log.Error("archive extraction stopped",
			"error", res.Err,
			"done", res.Done,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	} else {
		log.Debug("archive extracted",
			"done", res.Done,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"bytes", res.Bytes,
		)
	}
	e.report(ProgressEvent{
		Stage:     StageFinished,
		Field:     res.Name,
		BytesDone: uint64(res.Bytes), //nolint:gosec // Bytes is a sum of non-negative counts
		FilesDone: len(res.Entries),
	})
}

// extractEntry resolves and materializes a single entry. The returned
// error is non-nil only when the field must stop.
func (e *Extractor) extractEntry(sink *materialize.Sink, entry *Entry, log *slog.Logger) (EntryResult, error) {
	res := EntryResult{Path: entry.Path, Type: entry.Type}

	if entry.Type == TypeOther {
		res.State = StateSkipped
		log.Info("skipped entry", "path", entry.Path, "type", entry.Type.String())
		return res, nil
	}

	target, err := e.resolver.Resolve(entry.Path, entry.Type)
	if err != nil {
		res.State = StateFailed
		res.Err = err
		log.Warn("rejected entry", "path", entry.Path, "error", err)
		return res, nil
	}
	res.Target = target.Abs

	switch entry.Type {
	case TypeDirectory:
		if err := sink.Mkdir(target.Rel); err != nil {
			return e.fail(res, err, log)
		}
		res.State = StateDone
		log.Info("new dir", "path", entry.Path, "target", target.Abs)
	case TypeRegular:
		written, err := sink.WriteFile(target.Rel, entry)
		if err != nil {
			return e.fail(res, err, log)
		}
		res.State = StateDone
		res.Size = written.Bytes
		res.Digest = written.Digest
		log.Info("wrote file", "path", entry.Path, "target", target.Abs, "bytes", written.Bytes)
	}
	return res, nil
}

// fail marks res failed and decides whether the field must stop.
func (e *Extractor) fail(res EntryResult, err error, log *slog.Logger) (EntryResult, error) {
	res.State = StateFailed
	res.Err = err

	if errors.Is(err, materialize.ErrRead) {
		// The stream broke mid-content; nothing after it can be trusted.
		if !errors.Is(err, ErrDecompression) {
			res.Err = fmt.Errorf("%w: %w", ErrContainerParse, err)
		}
		log.Warn("failed to read entry", "path", res.Path, "target", res.Target, "error", res.Err)
		return res, fmt.Errorf("entry %q: %w", res.Path, res.Err)
	}

	log.Warn("failed to materialize entry", "path", res.Path, "target", res.Target, "error", err)
	if e.policy.aborts(res.Type) {
		return res, fmt.Errorf("entry %q: %w", res.Path, err)
	}
	return res, nil
}

// sinkOptions translates extractor options into materializer options.
func (e *Extractor) sinkOptions() []materialize.Option {
	return []materialize.Option{
		materialize.WithPreserveMode(e.preserveMode),
		materialize.WithPreserveTimes(e.preserveTimes),
		materialize.WithDirectWrites(e.directWrite),
		materialize.WithMaxFileSize(e.maxFileSize),
	}
}
