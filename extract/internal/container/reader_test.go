package container

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/untard/extract/internal/archivetype"
	"github.com/meigma/untard/internal/testutil"
)

func TestReader_Sequence(t *testing.T) {
	t.Parallel()

	data := testutil.Tar(t,
		testutil.Dir("a/"),
		testutil.File("a/b.txt", []byte("0123456789")),
		testutil.Symlink("a/link", "b.txt"),
		testutil.TestEntry{Name: "fifo", Typeflag: tar.TypeFifo},
		testutil.File("../evil.txt", []byte("evil!")),
	)

	r := NewReader(bytes.NewReader(data))

	type seen struct {
		path    string
		typ     archivetype.EntryType
		size    int64
		content string
	}
	var got []seen
	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		s := seen{path: entry.Path, typ: entry.Type, size: entry.Size}
		if entry.Content != nil {
			b, err := io.ReadAll(entry.Content)
			require.NoError(t, err)
			s.content = string(b)
		}
		got = append(got, s)
	}

	assert.Equal(t, []seen{
		{path: "a/", typ: archivetype.TypeDirectory},
		{path: "a/b.txt", typ: archivetype.TypeRegular, size: 10, content: "0123456789"},
		{path: "a/link", typ: archivetype.TypeOther},
		{path: "fifo", typ: archivetype.TypeOther},
		{path: "../evil.txt", typ: archivetype.TypeRegular, size: 5, content: "evil!"},
	}, got)
	assert.Equal(t, 5, r.Count())

	// The reader stays at EOF.
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_UnreadContentIsSkipped(t *testing.T) {
	t.Parallel()

	data := testutil.Tar(t,
		testutil.File("first", bytes.Repeat([]byte("a"), 2000)),
		testutil.File("second", []byte("b")),
	)
	r := NewReader(bytes.NewReader(data))

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", first.Path)

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "second", second.Path)
	b, err := io.ReadAll(second.Content)
	require.NoError(t, err)
	assert.Equal(t, "b", string(b))
}

func TestReader_EmptyArchive(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader(testutil.Tar(t)))
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, r.Count())
}

func TestReader_MalformedHeaders(t *testing.T) {
	t.Parallel()

	t.Run("first header", func(t *testing.T) {
		t.Parallel()

		r := NewReader(bytes.NewReader(testutil.TarWithBadHeader(t)))
		_, err := r.Next()
		require.ErrorIs(t, err, archivetype.ErrContainerParse)
		assert.Contains(t, err.Error(), "first header")
	})

	t.Run("mid stream", func(t *testing.T) {
		t.Parallel()

		data := testutil.TarWithBadHeader(t,
			testutil.File("ok.txt", []byte("fine")),
		)
		r := NewReader(bytes.NewReader(data))

		entry, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "ok.txt", entry.Path)

		_, err = r.Next()
		require.ErrorIs(t, err, archivetype.ErrContainerParse)

		// Errors are sticky.
		_, again := r.Next()
		assert.Equal(t, err, again)
	})

	t.Run("truncated stream", func(t *testing.T) {
		t.Parallel()

		data := testutil.Tar(t, testutil.File("a", []byte("abc")))
		r := NewReader(bytes.NewReader(data[:100]))
		_, err := r.Next()
		assert.ErrorIs(t, err, archivetype.ErrContainerParse)
	})
}

func TestReader_DecompressionErrorsPassThrough(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("%w: boom", archivetype.ErrDecompression)
	r := NewReader(io.MultiReader(
		bytes.NewReader(make([]byte, 10)),
		&errReader{err: cause},
	))

	_, err := r.Next()
	require.ErrorIs(t, err, archivetype.ErrDecompression)
	assert.NotErrorIs(t, err, archivetype.ErrContainerParse)
}

func TestEntryType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typeflag byte
		path     string
		want     archivetype.EntryType
	}{
		{"regular", tar.TypeReg, "f", archivetype.TypeRegular},
		{"legacy regular", tar.TypeRegA, "f", archivetype.TypeRegular}, //nolint:staticcheck // legacy archives still carry it
		{"legacy directory", tar.TypeRegA, "d/", archivetype.TypeDirectory}, //nolint:staticcheck // legacy archives still carry it
		{"directory", tar.TypeDir, "d/", archivetype.TypeDirectory},
		{"symlink", tar.TypeSymlink, "l", archivetype.TypeOther},
		{"hardlink", tar.TypeLink, "l", archivetype.TypeOther},
		{"char device", tar.TypeChar, "c", archivetype.TypeOther},
		{"block device", tar.TypeBlock, "b", archivetype.TypeOther},
		{"fifo", tar.TypeFifo, "p", archivetype.TypeOther},
		{"gnu sparse", tar.TypeGNUSparse, "s", archivetype.TypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := entryType(&tar.Header{Typeflag: tt.typeflag, Name: tt.path})
			assert.Equal(t, tt.want, got)
		})
	}
}

type errReader struct {
	err error
}

func (r *errReader) Read([]byte) (int, error) {
	return 0, r.err
}
