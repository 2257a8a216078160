// Package http serves archive uploads and the extracted tree over HTTP.
package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	nethttp "net/http"
	"os"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/meigma/untard/extract"
)

// Defaults match the original deployment.
const (
	// DefaultMaxUploadBytes is the request body ceiling (100 MiB).
	DefaultMaxUploadBytes int64 = 100 << 20

	// DefaultDocsPrefix is the URL prefix the extracted tree is served under.
	DefaultDocsPrefix = "/docs"

	// UploadPath is the route that accepts multipart archive uploads.
	UploadPath = "/upload"
)

// Server routes uploads to an Extractor and serves the destination root
// read-only.
type Server struct {
	extractor      *extract.Extractor
	logger         *slog.Logger
	maxUploadBytes int64
	sem            *semaphore.Weighted
	docsPrefix     string
	root           *os.Root
	mux            *nethttp.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request handling.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxUploadBytes sets the request body ceiling. Bodies over the limit
// are refused before any of their bytes reach decompression.
// Values <= 0 keep DefaultMaxUploadBytes.
func WithMaxUploadBytes(limit int64) Option {
	return func(s *Server) {
		if limit > 0 {
			s.maxUploadBytes = limit
		}
	}
}

// WithMaxConcurrentUploads bounds how many uploads are extracted at once.
// Waiting requests give up when their context ends. Values <= 0 mean no
// limit (the default).
func WithMaxConcurrentUploads(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		} else {
			s.sem = nil
		}
	}
}

// WithDocsPrefix sets the URL prefix for retrieving extracted files.
func WithDocsPrefix(prefix string) Option {
	return func(s *Server) {
		s.docsPrefix = prefix
	}
}

// NewServer creates a Server for ex.
func NewServer(ex *extract.Extractor, opts ...Option) (*Server, error) {
	s := &Server{
		extractor:      ex,
		maxUploadBytes: DefaultMaxUploadBytes,
		docsPrefix:     DefaultDocsPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.docsPrefix = "/" + strings.Trim(s.docsPrefix, "/")
	if s.docsPrefix == "/" {
		return nil, errors.New("docs prefix must not be the site root")
	}

	root, err := os.OpenRoot(ex.Root())
	if err != nil {
		return nil, fmt.Errorf("open destination root: %w", err)
	}
	s.root = root

	s.mux = nethttp.NewServeMux()
	s.mux.HandleFunc("POST "+UploadPath, s.handleUpload)
	s.mux.Handle("GET "+s.docsPrefix+"/", nethttp.StripPrefix(s.docsPrefix, nethttp.FileServerFS(root.FS())))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close releases the handle on the destination root.
func (s *Server) Close() error {
	return s.root.Close()
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// handleUpload extracts every part of a multipart body as one archive.
func (s *Server) handleUpload(w nethttp.ResponseWriter, r *nethttp.Request) {
	log := s.log().With("remote", r.RemoteAddr)

	if r.ContentLength > s.maxUploadBytes {
		log.Warn("upload rejected", "reason", "too large", "content_length", r.ContentLength)
		writeJSON(w, nethttp.StatusRequestEntityTooLarge, UploadResponse{Error: tooLargeMessage(s.maxUploadBytes)})
		return
	}
	r.Body = nethttp.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		log.Warn("upload rejected", "reason", "not multipart", "error", err)
		writeJSON(w, nethttp.StatusBadRequest, UploadResponse{Error: err.Error()})
		return
	}

	if s.sem != nil {
		if err := s.sem.Acquire(r.Context(), 1); err != nil {
			log.Warn("upload rejected", "reason", "no upload slot", "error", err)
			writeJSON(w, nethttp.StatusServiceUnavailable, UploadResponse{Error: "server busy"})
			return
		}
		defer s.sem.Release(1)
	}

	resp := UploadResponse{Fields: []FieldSummary{}}
	for i := 0; ; i++ {
		name, data, err := nextPart(mr, i)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			status := nethttp.StatusBadRequest
			resp.Error = err.Error()
			var tooLarge *nethttp.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = nethttp.StatusRequestEntityTooLarge
				resp.Error = tooLargeMessage(s.maxUploadBytes)
			}
			log.Warn("upload aborted", "error", err, "fields_done", len(resp.Fields))
			writeJSON(w, status, resp)
			return
		}

		res := s.extractor.Extract(name, bytes.NewReader(data))
		resp.Fields = append(resp.Fields, summarize(res))
	}

	log.Info("upload handled", "fields", len(resp.Fields))
	writeJSON(w, nethttp.StatusOK, resp)
}

// nextPart reads the next part fully so no byte of it reaches
// decompression unless the whole part fits under the body ceiling.
func nextPart(mr *multipart.Reader, index int) (string, []byte, error) {
	part, err := mr.NextPart()
	if err != nil {
		return "", nil, err
	}
	defer part.Close()

	name := part.FormName()
	if name == "" {
		name = part.FileName()
	}
	if name == "" {
		name = fmt.Sprintf("part-%d", index)
	}

	data, err := io.ReadAll(part)
	if err != nil {
		return "", nil, fmt.Errorf("read part %q: %w", name, err)
	}
	return name, data, nil
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("upload exceeds %d bytes", limit)
}

// UploadResponse is the JSON body returned by the upload route.
type UploadResponse struct {
	Fields []FieldSummary `json:"fields,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// FieldSummary reports the outcome of one uploaded archive.
type FieldSummary struct {
	Name     string         `json:"name"`
	Done     int            `json:"done"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Bytes    int64          `json:"bytes"`
	Error    string         `json:"error,omitempty"`
	Failures []EntryFailure `json:"failures,omitempty"`
}

// EntryFailure reports one entry that could not be extracted.
type EntryFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func summarize(res *extract.FieldResult) FieldSummary {
	sum := FieldSummary{
		Name:    res.Name,
		Done:    res.Done,
		Skipped: res.Skipped,
		Failed:  res.Failed,
		Bytes:   res.Bytes,
	}
	if res.Err != nil {
		sum.Error = res.Err.Error()
	}
	for _, f := range res.Failures() {
		sum.Failures = append(sum.Failures, EntryFailure{Path: f.Path, Error: f.Err.Error()})
	}
	return sum
}

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
