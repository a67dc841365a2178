package native

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetax/internal/backends"
	cterrors "codetax/internal/errors"
	"codetax/internal/slogutil"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func collect(t *testing.T, q backends.Query) []backends.Match {
	t.Helper()
	var got []backends.Match
	err := NewWalker(slogutil.NewDiscardLogger()).Search(context.Background(), q, func(m backends.Match) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	sort.Slice(got, func(i, j int) bool {
		if got[i].Path != got[j].Path {
			return got[i].Path < got[j].Path
		}
		return got[i].Start < got[j].Start
	})
	return got
}

func TestSearch_HelloFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"test1.txt": "Hello foo",
		"test2.txt": "Hello bar\n",
		"test3.txt": "Goodbye foobar\n",
	})

	got := collect(t, backends.Query{Pattern: `Hello (?P<name>.*)`, Paths: []string{dir}})
	require.Len(t, got, 2)

	assert.Equal(t, filepath.Join(dir, "test1.txt"), got[0].Path)
	assert.Equal(t, 1, got[0].LineNumber)
	assert.Equal(t, "Hello foo", got[0].Line)
	assert.Equal(t, "Hello foo", got[0].Text)

	assert.Equal(t, "Hello bar\n", got[1].Line)
	assert.Equal(t, "Hello bar", got[1].Text)
}

func TestSearch_MultipleSubmatchesPerLine(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.py": "x = 1\nclass A: pass; class B: pass\n",
	})

	got := collect(t, backends.Query{Pattern: `class \w+`, Paths: []string{dir}})
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].LineNumber)
	assert.Equal(t, "class A", got[0].Text)
	assert.Equal(t, "class B", got[1].Text)
	assert.Equal(t, 15, got[1].Start)
}

func TestSearch_Globs(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"app/views.py":             "def view(): pass\n",
		"app/tests/test_views.py":  "def test_view(): pass\n",
		"app/templates/index.html": "def not_python(): pass\n",
		"__snapshots__/snap.py":    "def snap(): pass\n",
		".hidden/secret.py":        "def hidden(): pass\n",
	})

	got := collect(t, backends.Query{
		Pattern: `def \w+\(\)`,
		Paths:   []string{dir},
		Globs:   []string{"*.py", "!__snapshots__/**", "!*/tests/**"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(dir, "app", "views.py"), got[0].Path)
}

func TestSearch_SkipsBinaryFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"bin.dat":  "Hello\x00world\n",
		"text.txt": "Hello world\n",
	})

	got := collect(t, backends.Query{Pattern: `Hello`, Paths: []string{dir}})
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(dir, "text.txt"), got[0].Path)
}

func TestSearch_SingleFilePath(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"one.txt": "Hello foo\n"})

	got := collect(t, backends.Query{Pattern: `Hello`, Paths: []string{filepath.Join(dir, "one.txt")}})
	require.Len(t, got, 1)
}

func TestSearch_Errors(t *testing.T) {
	w := NewWalker(slogutil.NewDiscardLogger())
	noop := func(backends.Match) error { return nil }

	err := w.Search(context.Background(), backends.Query{Pattern: `(`, Paths: []string{"."}}, noop)
	assert.True(t, cterrors.HasCode(err, cterrors.BackendUnavailable), "bad pattern: %v", err)

	err = w.Search(context.Background(), backends.Query{Pattern: `x`, Paths: []string{filepath.Join(t.TempDir(), "missing")}}, noop)
	assert.True(t, cterrors.HasCode(err, cterrors.BackendUnavailable), "missing path: %v", err)
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		glob string
		rel  string
		want bool
	}{
		{"*.py", "a/b/c.py", true},
		{"*.py", "c.pyc", false},
		{"__snapshots__/**", "__snapshots__/x/y.js", true},
		{"*/tests/**", "app/tests/test_x.py", true},
		{"*/tests/**", "tests/test_x.py", false},
		{"/app/*.py", "app/x.py", true},
	}
	for _, tt := range tests {
		if got := globMatch(tt.glob, tt.rel); got != tt.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tt.glob, tt.rel, got, tt.want)
		}
	}
}
