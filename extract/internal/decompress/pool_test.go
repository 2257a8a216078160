package decompress

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/meigma/untard/extract/internal/archivetype"
)

func compressData(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := gzip.NewWriter(&buf)
	if _, err := enc.Write(data); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to close encoder: %v", err)
	}
	return buf.Bytes()
}

func TestPool_Get(t *testing.T) {
	t.Parallel()

	original := bytes.Repeat([]byte("hello world, this is a test of gzip compression "), 64)
	compressed := compressData(t, original)

	pools := map[string]*Pool{
		"serial":   NewPool(),
		"parallel": NewPool(WithParallelBlocks(4), WithBlockSize(256)),
		"nil":      nil,
	}

	for name, pool := range pools {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			// Get and release multiple decoders to exercise reuse
			for i := range 5 {
				dec, release, err := pool.Get(bytes.NewReader(compressed))
				if err != nil {
					t.Fatalf("iteration %d: Get() error = %v", i, err)
				}

				result, err := io.ReadAll(dec)
				release()
				if err != nil {
					t.Fatalf("iteration %d: ReadAll() error = %v", i, err)
				}
				if !bytes.Equal(result, original) {
					t.Errorf("iteration %d: decoded %d bytes, want %d", i, len(result), len(original))
				}
			}
		})
	}
}

func TestPool_Parallel(t *testing.T) {
	t.Parallel()

	if NewPool().Parallel() {
		t.Error("default pool reports parallel")
	}
	if NewPool(WithParallelBlocks(1)).Parallel() {
		t.Error("single block pool reports parallel")
	}
	if !NewPool(WithParallelBlocks(2)).Parallel() {
		t.Error("two block pool does not report parallel")
	}
}

func TestPool_InvalidStreams(t *testing.T) {
	t.Parallel()

	valid := compressData(t, bytes.Repeat([]byte("payload "), 128))

	corruptCRC := bytes.Clone(valid)
	corruptCRC[len(corruptCRC)-8] ^= 0xff

	tests := []struct {
		name    string
		data    []byte
		onOpen  bool
		wantErr error
	}{
		{name: "empty payload", data: nil, onOpen: true, wantErr: archivetype.ErrDecompression},
		{name: "wrong magic", data: []byte("this is not gzip at all"), onOpen: true, wantErr: archivetype.ErrDecompression},
		{name: "truncated stream", data: valid[:len(valid)-12], wantErr: archivetype.ErrDecompression},
		{name: "checksum mismatch", data: corruptCRC, wantErr: archivetype.ErrDecompression},
	}

	for _, parallel := range []bool{false, true} {
		var opts []Option
		if parallel {
			opts = append(opts, WithParallelBlocks(2))
		}
		pool := NewPool(opts...)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				dec, release, err := pool.Get(bytes.NewReader(tt.data))
				if tt.onOpen {
					if !errors.Is(err, tt.wantErr) {
						t.Fatalf("Get() error = %v, want %v", err, tt.wantErr)
					}
					return
				}
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				defer release()

				_, err = io.Copy(io.Discard, dec)
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Read() error = %v, want %v", err, tt.wantErr)
				}
			})
		}
	}
}

func TestPool_ReuseAfterFailure(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	original := []byte("still works")
	compressed := compressData(t, original)

	// Prime the pool with a decoder.
	dec, release, err := pool.Get(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := io.Copy(io.Discard, dec); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	release()

	if _, _, err := pool.Get(bytes.NewReader([]byte("garbage"))); !errors.Is(err, archivetype.ErrDecompression) {
		t.Fatalf("Get(garbage) error = %v, want ErrDecompression", err)
	}

	dec, release, err = pool.Get(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("Get() after failure error = %v", err)
	}
	defer release()
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("decoded = %q, want %q", got, original)
	}
}

func TestPool_IgnoresBytesAfterFirstMember(t *testing.T) {
	t.Parallel()

	first := compressData(t, []byte("first member"))
	data := append(bytes.Clone(first), []byte("\x00\x00trailing junk")...)

	for _, pool := range []*Pool{NewPool(), NewPool(WithParallelBlocks(2))} {
		dec, release, err := pool.Get(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		got, err := io.ReadAll(dec)
		release()
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if string(got) != "first member" {
			t.Errorf("decoded = %q, want %q", got, "first member")
		}
	}
}

func TestPool_ParallelAlternatingPayloads(t *testing.T) {
	t.Parallel()

	original := make([]byte, 32<<10)
	for i := range original {
		original[i] = byte(i*7 + i/13)
	}
	compressed := compressData(t, original)
	pool := NewPool(WithParallelBlocks(4), WithBlockSize(1024))

	decode := func(data []byte) ([]byte, error) {
		type result struct {
			out []byte
			err error
		}
		done := make(chan result, 1)
		go func() {
			dec, release, err := pool.Get(bytes.NewReader(data))
			if err != nil {
				done <- result{err: err}
				return
			}
			defer release()
			out, err := io.ReadAll(dec)
			done <- result{out: out, err: err}
		}()
		select {
		case res := <-done:
			return res.out, res.err
		case <-time.After(5 * time.Second):
			t.Fatalf("decode did not return")
			return nil, nil
		}
	}

	for cut := 1; cut < 40; cut++ {
		if _, err := decode(compressed[:len(compressed)-cut]); !errors.Is(err, archivetype.ErrDecompression) {
			t.Fatalf("cut %d: error = %v, want ErrDecompression", cut, err)
		}
		got, err := decode(compressed)
		if err != nil {
			t.Fatalf("cut %d: valid payload error = %v", cut, err)
		}
		if !bytes.Equal(got, original) {
			t.Fatalf("cut %d: decoded %d bytes, want %d", cut, len(got), len(original))
		}
	}
}

func TestPool_ParallelReleaseBeforeEOF(t *testing.T) {
	t.Parallel()

	original := bytes.Repeat([]byte("partial read "), 4096)
	pool := NewPool(WithParallelBlocks(2), WithBlockSize(1024))

	dec, release, err := pool.Get(bytes.NewReader(compressData(t, original)))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	buf := make([]byte, 100)
	if _, err := io.ReadFull(dec, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}

	released := make(chan struct{})
	go func() {
		release()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("release blocked with unread data")
	}
}
