// Package decompress wraps gzip payloads in pooled streaming decoders.
package decompress

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	"github.com/meigma/untard/extract/internal/archivetype"
)

// defaultBlockSize is the pgzip read-ahead block size.
const defaultBlockSize = 1 << 20

// Pool manages reusable gzip decoders to reduce allocation overhead.
//
// When parallel blocks are configured, each payload gets its own pgzip
// decoder that decodes ahead of the reader on background goroutines.
// Otherwise pooled single-threaded klauspost gzip decoders are used.
type Pool struct {
	pool      *sync.Pool
	blocks    int
	blockSize int
}

// Option configures a Pool.
type Option func(*Pool)

// WithParallelBlocks enables pgzip read-ahead decoding with n blocks in
// flight. Values < 2 keep the single-threaded decoder.
func WithParallelBlocks(n int) Option {
	return func(p *Pool) {
		p.blocks = n
	}
}

// WithBlockSize sets the pgzip read-ahead block size in bytes.
func WithBlockSize(size int) Option {
	return func(p *Pool) {
		if size > 0 {
			p.blockSize = size
		}
	}
}

// NewPool creates a decoder pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{blockSize: defaultBlockSize}
	for _, opt := range opts {
		opt(p)
	}
	p.pool = &sync.Pool{}
	return p
}

// Parallel reports whether the pool hands out pgzip decoders.
func (p *Pool) Parallel() bool {
	return p != nil && p.blocks > 1
}

// Get returns a decompressed view of r.
//
// Only the first gzip member is decoded; bytes after it are ignored.
// The caller must call the returned release function when done. If an
// error is returned, no release function needs to be called. Every
// non-EOF error, including ones surfaced later by Read, wraps
// archivetype.ErrDecompression.
func (p *Pool) Get(r io.Reader) (io.Reader, func(), error) {
	if p.Parallel() {
		return p.getParallel(r)
	}

	if p == nil || p.pool == nil {
		dec, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, wrap(err)
		}
		dec.Multistream(false)
		return &taggedReader{r: dec}, func() { _ = dec.Close() }, nil //nolint:errcheck // decoders hold no external state
	}

	if value := p.pool.Get(); value != nil {
		if dec, ok := value.(*gzip.Reader); ok {
			if err := dec.Reset(r); err != nil {
				// The decoder is reusable but this payload is not.
				p.put(dec)
				return nil, nil, wrap(err)
			}
			dec.Multistream(false)
			return &taggedReader{r: dec}, func() { p.put(dec) }, nil
		}
	}

	dec, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, wrap(err)
	}
	dec.Multistream(false)
	return &taggedReader{r: dec}, func() { p.put(dec) }, nil
}

// getParallel decodes r with a fresh pgzip reader.
//
// pgzip decoders are never pooled: one whose read-ahead stopped on a
// broken stream can block a later Read forever. The payload is pumped
// through WriteTo, which reports truncated streams that Read does not.
func (p *Pool) getParallel(r io.Reader) (io.Reader, func(), error) {
	dec, err := pgzip.NewReaderN(r, p.blockSize, p.blocks)
	if err != nil {
		return nil, nil, wrap(err)
	}
	dec.Multistream(false)

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := dec.WriteTo(pw)
		if err != nil {
			err = wrap(err)
		}
		_ = pw.CloseWithError(err) //nolint:errcheck // always nil
	}()

	release := func() {
		_ = pr.Close() //nolint:errcheck // unblocks the pump
		<-done
		_ = dec.Close() //nolint:errcheck // stops read-ahead
	}
	return &taggedReader{r: pr}, release, nil
}

// put closes the decoder and returns it to the pool.
func (p *Pool) put(dec *gzip.Reader) {
	_ = dec.Close() //nolint:errcheck // clearing state before pool return
	p.pool.Put(dec)
}

// wrap tags err as a decompression failure.
func wrap(err error) error {
	if errors.Is(err, archivetype.ErrDecompression) {
		return err
	}
	if err == io.EOF {
		// gzip reports an empty payload as a bare EOF.
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", archivetype.ErrDecompression, err)
}

// taggedReader marks decoder errors so they can be told apart from
// container errors once they pass through the tar reader.
type taggedReader struct {
	r io.Reader
}

// Read implements io.Reader.
func (t *taggedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		err = wrap(err)
	}
	return n, err
}
