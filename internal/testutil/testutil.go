// Package testutil builds tar.gz fixtures and inspects extracted trees in tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

// fixedTime keeps fixtures byte-for-byte reproducible.
var fixedTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// TestEntry describes one entry of a test archive.
type TestEntry struct {
	Name     string
	Typeflag byte
	Content  []byte
	Linkname string
	Mode     int64
	ModTime  time.Time
}

// Dir returns a directory entry.
func Dir(name string) TestEntry {
	return TestEntry{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}
}

// File returns a regular file entry.
func File(name string, content []byte) TestEntry {
	return TestEntry{Name: name, Typeflag: tar.TypeReg, Content: content, Mode: 0o644}
}

// Symlink returns a symbolic link entry.
func Symlink(name, target string) TestEntry {
	return TestEntry{Name: name, Typeflag: tar.TypeSymlink, Linkname: target, Mode: 0o777}
}

// Tar builds an uncompressed tar stream from entries.
func Tar(t testing.TB, entries ...TestEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	writeEntries(t, tw, entries)
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	return buf.Bytes()
}

// TarWithBadHeader builds a tar stream from entries followed by a header
// block whose checksum cannot match, and no end-of-archive marker.
func TarWithBadHeader(t testing.TB, entries ...TestEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	writeEntries(t, tw, entries)
	if err := tw.Flush(); err != nil {
		t.Fatalf("flush tar writer: %v", err)
	}
	buf.Write(bytes.Repeat([]byte{'x'}, blockSize))
	return buf.Bytes()
}

// blockSize is the tar header and padding unit.
const blockSize = 512

func writeEntries(t testing.TB, tw *tar.Writer, entries []TestEntry) {
	t.Helper()

	for _, e := range entries {
		modTime := e.ModTime
		if modTime.IsZero() {
			modTime = fixedTime
		}
		hdr := &tar.Header{
			Name:     e.Name,
			Typeflag: e.Typeflag,
			Linkname: e.Linkname,
			Mode:     e.Mode,
			Size:     int64(len(e.Content)),
			ModTime:  modTime,
		}
		if e.Typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %q: %v", e.Name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write(e.Content); err != nil {
				t.Fatalf("write tar content %q: %v", e.Name, err)
			}
		}
	}
}

// Gzip compresses data into a single gzip member.
func Gzip(t testing.TB, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// TarGz builds a gzip-compressed tar archive from entries.
func TarGz(t testing.TB, entries ...TestEntry) []byte {
	t.Helper()
	return Gzip(t, Tar(t, entries...))
}

// Tree walks dir and returns every file's content keyed by slash path,
// with directories mapped to nil.
func Tree(t testing.TB, dir string) map[string][]byte {
	t.Helper()

	tree := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			tree[rel] = nil
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[rel] = data
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return tree
}
