package extract

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// NormalizePath converts an archive path to slash-separated relative form.
//
// It performs the following transformations:
//   - Strips leading slashes: "/etc/nginx" → "etc/nginx"
//   - Strips trailing slashes: "etc/nginx/" → "etc/nginx"
//   - Collapses consecutive slashes: "etc//nginx" → "etc/nginx"
//   - Converts empty string to root: "" → "."
//   - Preserves root indicator: "/" → "."
//
// Note: This function does not resolve path elements. Paths containing
// "." or ".." elements are preserved; Resolver.Resolve cleans and checks them.
func NormalizePath(p string) string {
	// Trim all leading and trailing slashes
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}

	// Collapse consecutive slashes by splitting and rejoining.
	// This removes empty segments but preserves "." and ".." elements.
	parts := strings.Split(p, "/")
	result := parts[:0] // reuse backing array
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return "."
	}
	return strings.Join(result, "/")
}

// Target is an entry's destination below the root.
type Target struct {
	// Abs is the absolute destination path. It is always a strict
	// descendant of the resolver's root.
	Abs string

	// Rel is Abs relative to the root, in OS path form.
	Rel string

	// Type is the entry type the target was resolved for.
	Type EntryType
}

// Resolver maps untrusted archive paths onto a fixed destination root.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver for root.
//
// The root is made absolute, created if missing, and has its symlinks
// resolved, so every Target.Abs shares the same canonical prefix.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve destination root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create destination root %s: %w", abs, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve destination root %s: %w", abs, err)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical absolute destination root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve maps declared onto a path under the root.
//
// Leading slashes are stripped, so absolute archive paths land inside the
// root. The path is then cleaned; it is rejected if it is empty, names the
// root itself, climbs above the root, carries a volume name, or contains a
// NUL byte. The surviving path is joined with SecureJoin, which resolves
// symlinks already present under the root without letting them escape.
// Every rejection wraps ErrPathViolation.
func (r *Resolver) Resolve(declared string, typ EntryType) (Target, error) {
	clean, err := cleanPath(declared)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %w", ErrPathViolation, declared, err)
	}

	abs, err := securejoin.SecureJoin(r.root, filepath.FromSlash(clean))
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %w", ErrPathViolation, declared, err)
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return Target{}, fmt.Errorf("%w: %q: resolves outside destination root", ErrPathViolation, declared)
	}
	return Target{Abs: abs, Rel: rel, Type: typ}, nil
}

// violation describes why a declared path was rejected.
type violation string

func (v violation) Error() string { return string(v) }

// cleanPath normalizes declared and checks it stays below the root.
func cleanPath(declared string) (string, error) {
	switch {
	case declared == "":
		return "", violation("empty path")
	case strings.ContainsRune(declared, 0):
		return "", violation("path contains NUL byte")
	case filepath.VolumeName(declared) != "":
		return "", violation("path carries a volume name")
	}

	clean := path.Clean(NormalizePath(declared))
	switch {
	case clean == ".":
		return "", violation("path resolves to destination root")
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return "", violation("path climbs above destination root")
	case !fs.ValidPath(clean) || !filepath.IsLocal(filepath.FromSlash(clean)):
		return "", violation("path is not local")
	}
	return clean, nil
}
