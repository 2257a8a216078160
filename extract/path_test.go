package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading slash", "/etc/nginx", "etc/nginx"},
		{"trailing slash", "etc/nginx/", "etc/nginx"},
		{"both slashes", "/etc/nginx/", "etc/nginx"},
		{"empty string", "", "."},
		{"root slash", "/", "."},
		{"dot", ".", "."},
		{"simple", "foo", "foo"},
		{"nested path", "/foo/bar/baz", "foo/bar/baz"},
		// Multiple slashes
		{"multiple leading slashes", "///etc/nginx", "etc/nginx"},
		{"internal double slashes", "etc//nginx", "etc/nginx"},
		{"mixed slashes everywhere", "//etc//nginx//", "etc/nginx"},
		// Dot and dotdot segments are preserved (Resolve cleans them)
		{"dotdot in middle", "a/../b", "a/../b"},
		{"dotdot at start", "../etc", "../etc"},
		{"dot in middle", "a/./b", "a/./b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePath(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(filepath.Join(t.TempDir(), "payload"))
	require.NoError(t, err)
	return r
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	r := newResolver(t)

	tests := []struct {
		name     string
		declared string
		wantRel  string
	}{
		{"simple file", "a.txt", "a.txt"},
		{"nested", "a/b/c.txt", filepath.Join("a", "b", "c.txt")},
		{"directory with slash", "a/", "a"},
		{"leading dot", "./a/b.txt", filepath.Join("a", "b.txt")},
		{"absolute is stripped", "/etc/passwd", filepath.Join("etc", "passwd")},
		{"many leading slashes", "///etc/passwd", filepath.Join("etc", "passwd")},
		{"redundant separators", "a//b///c", filepath.Join("a", "b", "c")},
		{"interior dotdot stays inside", "a/../b.txt", "b.txt"},
		{"dot segments", "a/./b/./c", filepath.Join("a", "b", "c")},
		{"dotdot in name", "a/..b", filepath.Join("a", "..b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			target, err := r.Resolve(tt.declared, TypeRegular)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRel, target.Rel)
			assert.Equal(t, filepath.Join(r.Root(), tt.wantRel), target.Abs)
			assert.Equal(t, TypeRegular, target.Type)
		})
	}
}

func TestResolver_Violations(t *testing.T) {
	t.Parallel()

	r := newResolver(t)

	tests := []struct {
		name     string
		declared string
	}{
		{"empty", ""},
		{"root dot", "."},
		{"root dot slash", "./"},
		{"root slash", "/"},
		{"parent", ".."},
		{"parent file", "../evil.txt"},
		{"nested escape", "a/../../evil.txt"},
		{"deep escape", "a/b/../../../../etc/passwd"},
		{"absolute escape", "/../evil.txt"},
		{"dot then parent", "./../evil.txt"},
		{"collapses to root", "a/.."},
		{"nul byte", "a\x00b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := r.Resolve(tt.declared, TypeRegular)
			assert.ErrorIs(t, err, ErrPathViolation)
		})
	}
}

// Every resolved target must be a strict descendant of the root, whatever
// mix of separators, dots and parents the declared path contains.
func TestResolver_Containment(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	segments := []string{"", ".", "..", "a", "b", "/", "//", "./", "../", "a/..", "..."}

	var paths []string
	for _, s1 := range segments {
		for _, s2 := range segments {
			for _, s3 := range segments {
				paths = append(paths, s1+s2+s3, s1+"/"+s2+"/"+s3)
			}
		}
	}

	prefix := r.Root() + string(filepath.Separator)
	for _, declared := range paths {
		target, err := r.Resolve(declared, TypeRegular)
		if err != nil {
			assert.ErrorIs(t, err, ErrPathViolation, "declared %q", declared)
			continue
		}
		assert.True(t, strings.HasPrefix(target.Abs, prefix), "declared %q resolved to %q", declared, target.Abs)
		assert.True(t, filepath.IsLocal(target.Rel), "declared %q resolved to rel %q", declared, target.Rel)
	}
}

func TestResolver_SymlinkInsideRootCannotEscape(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(r.Root(), "link")))

	target, err := r.Resolve("link/evil.txt", TypeRegular)
	if err != nil {
		assert.ErrorIs(t, err, ErrPathViolation)
		return
	}
	assert.True(t, strings.HasPrefix(target.Abs, r.Root()+string(filepath.Separator)), "resolved to %q", target.Abs)
}

func TestNewResolver_CanonicalRoot(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	realDir := filepath.Join(base, "real")
	require.NoError(t, os.Mkdir(realDir, 0o750))
	require.NoError(t, os.Symlink(realDir, filepath.Join(base, "alias")))

	r, err := NewResolver(filepath.Join(base, "alias"))
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(realDir)
	require.NoError(t, err)
	assert.Equal(t, want, r.Root())
}
