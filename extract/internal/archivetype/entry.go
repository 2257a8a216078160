package archivetype

import (
	"io"
	"io/fs"
	"time"
)

// EntryType classifies an archive entry for materialization.
type EntryType uint8

const (
	// TypeOther covers symlinks, hardlinks, devices, fifos and anything
	// else that is recognized but never written to disk.
	TypeOther EntryType = iota

	// TypeRegular is a regular file with content.
	TypeRegular

	// TypeDirectory is a directory.
	TypeDirectory
)

// String returns the string representation of the entry type.
func (t EntryType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	default:
		return "other"
	}
}

// Entry is a single header+payload unit read from an archive.
//
// Entries are produced one at a time. Content is only valid until the
// next entry is requested from the same reader.
type Entry struct {
	// Path is the path declared by the archive header. It is untrusted:
	// it may be absolute, empty, or contain ".." elements.
	Path string

	// Size is the content length declared by the header. It is a hint;
	// the content stream is authoritative.
	Size int64

	// Type is the materialization class of the entry.
	Type EntryType

	// Mode is the permission bits declared by the header.
	Mode fs.FileMode

	// ModTime is the modification time declared by the header.
	ModTime time.Time

	// Content streams the entry payload. Nil for non-regular entries.
	Content io.Reader
}
