// Package materialize creates extracted directories and files under a
// destination root.
package materialize

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/untard/extract/internal/archivetype"
)

// Entry is an alias for archivetype.Entry.
type Entry = archivetype.Entry

// ErrRead marks failures reading entry content, as opposed to writing it.
var ErrRead = errors.New("read entry content")

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// copyBufferSize matches the buffer the archive writer streams with.
	copyBufferSize = 32 * 1024
)

// Sink writes entries below a destination root.
//
// All filesystem calls go through an os.Root, so no operation can reach
// outside the root even through symlinks planted after resolution.
// By default, files are written to a temporary file in the same directory
// and renamed to the final path on Commit. This ensures that partially
// written files are never visible at the final path.
type Sink struct {
	dir           string
	root          *os.Root
	preserveMode  bool
	preserveTimes bool
	directWrite   bool
	maxFileSize   int64
	buf           []byte
}

// Option configures a Sink.
type Option func(*Sink)

// WithPreserveMode applies header permission bits to written files.
// By default, files are created 0644 minus the umask.
func WithPreserveMode(preserve bool) Option {
	return func(s *Sink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes applies header modification times to written files.
// By default, times are not preserved (files use current time).
func WithPreserveTimes(preserve bool) Option {
	return func(s *Sink) {
		s.preserveTimes = preserve
	}
}

// WithDirectWrites disables temp files and writes directly to the final path.
func WithDirectWrites(enabled bool) Option {
	return func(s *Sink) {
		s.directWrite = enabled
	}
}

// WithMaxFileSize limits the content written for a single file.
// Zero or a negative value disables the limit.
func WithMaxFileSize(limit int64) Option {
	return func(s *Sink) {
		s.maxFileSize = limit
	}
}

// Open creates dir if needed and opens it as the sink's root.
func Open(dir string, opts ...Option) (*Sink, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create destination root %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", dir, err)
	}
	s := &Sink{dir: dir, root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the root handle.
func (s *Sink) Close() error {
	return s.root.Close()
}

// Mkdir creates the directory rel and any missing parents. It succeeds if
// the directory already exists.
func (s *Sink) Mkdir(rel string) error {
	if err := s.root.MkdirAll(rel, dirPerm); err != nil {
		return fmt.Errorf("%w: create directory %s: %w", archivetype.ErrMaterialize, rel, err)
	}
	return nil
}

// Written describes file content committed by WriteFile.
type Written struct {
	// Bytes is the number of content bytes written.
	Bytes int64

	// Digest is the sha256 digest of the written content.
	Digest digest.Digest
}

// WriteFile streams entry.Content to rel, replacing any existing file.
//
// Content is authoritative: the number of bytes written is whatever the
// stream yields, regardless of entry.Size. Errors reading the content wrap
// ErrRead; every other failure wraps archivetype.ErrMaterialize.
func (s *Sink) WriteFile(rel string, entry *Entry) (Written, error) {
	w, err := s.Writer(rel, entry)
	if err != nil {
		return Written{}, err
	}

	if s.buf == nil {
		s.buf = make([]byte, copyBufferSize)
	}
	content := entry.Content
	if content == nil {
		content = eofReader{}
	}
	src := &sourceReader{r: content}
	var limited io.Reader = src
	if s.maxFileSize > 0 {
		limited = io.LimitReader(src, s.maxFileSize+1)
	}
	digester := digest.Canonical.Digester()
	n, err := io.CopyBuffer(io.MultiWriter(w, digester.Hash()), limited, s.buf)
	if err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		if src.err != nil && errors.Is(err, src.err) {
			return Written{}, fmt.Errorf("%w: %s: %w", ErrRead, entry.Path, err)
		}
		return Written{}, fmt.Errorf("%w: write %s: %w", archivetype.ErrMaterialize, rel, err)
	}
	if s.maxFileSize > 0 && n > s.maxFileSize {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return Written{}, fmt.Errorf("%w: %w: %s exceeds %d bytes", archivetype.ErrMaterialize, archivetype.ErrFileTooLarge, entry.Path, s.maxFileSize)
	}
	if err := w.Commit(); err != nil {
		return Written{}, fmt.Errorf("%w: %w", archivetype.ErrMaterialize, err)
	}
	return Written{Bytes: n, Digest: digester.Digest()}, nil
}

// Committer is a writer that can be committed or discarded.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content visible at the target.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}

// Writer returns a Committer for the file rel, creating parent
// directories as needed.
func (s *Sink) Writer(rel string, entry *Entry) (Committer, error) {
	if dir := filepath.Dir(rel); dir != "." {
		if err := s.root.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("%w: create directory %s: %w", archivetype.ErrMaterialize, dir, err)
		}
	}

	if s.directWrite {
		file, err := s.root.OpenFile(rel, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
		if err != nil {
			return nil, fmt.Errorf("%w: create file %s: %w", archivetype.ErrMaterialize, rel, err)
		}
		return &directCommitter{entry: entry, rel: rel, file: file, sink: s}, nil
	}

	// Create temp file in same directory (for atomic rename)
	tempFile, tempRel, err := createTempFile(s.root, filepath.Dir(rel), ".untard-")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %w", archivetype.ErrMaterialize, err)
	}
	return &fileCommitter{entry: entry, rel: rel, tempFile: tempFile, tempRel: tempRel, sink: s}, nil
}

// applyMetadata sets mode and times on name if the sink preserves them.
func (s *Sink) applyMetadata(name string, entry *Entry) error {
	if s.preserveMode {
		if err := s.root.Chmod(name, entry.Mode.Perm()); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}
	if s.preserveTimes && !entry.ModTime.IsZero() {
		if err := s.root.Chtimes(name, entry.ModTime, entry.ModTime); err != nil {
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	return nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	entry    *Entry
	rel      string
	tempFile *os.File
	tempRel  string
	sink     *Sink
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies metadata, and renames to final path.
func (c *fileCommitter) Commit() error {
	if err := c.tempFile.Close(); err != nil {
		_ = c.sink.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := c.sink.applyMetadata(c.tempRel, c.entry); err != nil {
		_ = c.sink.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := c.sink.root.Rename(c.tempRel, c.rel); err != nil {
		_ = c.sink.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.rel, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return c.sink.root.Remove(c.tempRel)
}

// directCommitter writes directly to the final path.
type directCommitter struct {
	entry *Entry
	rel   string
	file  *os.File
	sink  *Sink
}

// Write implements io.Writer.
func (c *directCommitter) Write(p []byte) (int, error) {
	return c.file.Write(p)
}

// Commit closes the file and applies metadata.
func (c *directCommitter) Commit() error {
	if err := c.file.Close(); err != nil {
		_ = c.sink.root.Remove(c.rel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close file: %w", err)
	}
	if err := c.sink.applyMetadata(c.rel, c.entry); err != nil {
		_ = c.sink.root.Remove(c.rel) //nolint:errcheck // best-effort cleanup
		return err
	}
	return nil
}

// Discard closes and removes the file.
func (c *directCommitter) Discard() error {
	_ = c.file.Close() //nolint:errcheck // best-effort cleanup
	return c.sink.root.Remove(c.rel)
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// sourceReader remembers the first read error so copy failures can be
// attributed to the source or the destination.
type sourceReader struct {
	r   io.Reader
	err error
}

// Read implements io.Reader.
func (sr *sourceReader) Read(p []byte) (int, error) {
	n, err := sr.r.Read(p)
	if err != nil && err != io.EOF && sr.err == nil {
		sr.err = err
	}
	return n, err
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
