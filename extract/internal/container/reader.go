// Package container reads tar archives as a forward-only sequence of entries.
package container

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/meigma/untard/extract/internal/archivetype"
)

// Entry is an alias for archivetype.Entry.
type Entry = archivetype.Entry

// Reader produces archive entries in the order they appear in the stream.
//
// A Reader is single-pass and not restartable. After Next returns an
// error, every later call returns the same error.
type Reader struct {
	tr    *tar.Reader
	count int
	err   error
}

// NewReader creates a Reader over a decompressed tar stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{tr: tar.NewReader(r)}
}

// Count returns the number of entries produced so far.
func (r *Reader) Count() int {
	return r.count
}

// Next advances to the next entry.
//
// It returns io.EOF at the end of the archive. Errors from the underlying
// decompressor are returned unchanged so callers can classify them; any
// other failure wraps archivetype.ErrContainerParse. Reading the next
// entry invalidates the previous entry's Content.
func (r *Reader) Next() (*Entry, error) {
	if r.err != nil {
		return nil, r.err
	}

	hdr, err := r.tr.Next()
	if errors.Is(err, tar.ErrInsecurePath) && hdr != nil {
		// Path safety is enforced when the entry is resolved.
		err = nil
	}
	if err != nil {
		r.err = r.classify(err)
		return nil, r.err
	}
	r.count++

	entry := &Entry{
		Path:    hdr.Name,
		Size:    hdr.Size,
		Type:    entryType(hdr),
		Mode:    hdr.FileInfo().Mode().Perm(),
		ModTime: hdr.ModTime,
	}
	if entry.Type == archivetype.TypeRegular {
		entry.Content = r.tr
	}
	return entry, nil
}

// classify maps a tar reader error onto the extraction error taxonomy.
func (r *Reader) classify(err error) error {
	switch {
	case err == io.EOF:
		return io.EOF
	case errors.Is(err, archivetype.ErrDecompression):
		return err
	case r.count == 0:
		return fmt.Errorf("%w: first header: %w", archivetype.ErrContainerParse, err)
	default:
		return fmt.Errorf("%w: header after entry %d: %w", archivetype.ErrContainerParse, r.count, err)
	}
}

// entryType maps a tar header type onto an entry type.
func entryType(hdr *tar.Header) archivetype.EntryType {
	switch hdr.Typeflag {
	case tar.TypeReg:
		return archivetype.TypeRegular
	case tar.TypeRegA: //nolint:staticcheck // legacy archives still carry it
		// Pre-POSIX archives mark directories with a trailing slash.
		if strings.HasSuffix(hdr.Name, "/") {
			return archivetype.TypeDirectory
		}
		return archivetype.TypeRegular
	case tar.TypeDir:
		return archivetype.TypeDirectory
	default:
		return archivetype.TypeOther
	}
}
