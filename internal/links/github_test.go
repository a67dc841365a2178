package links

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetax/internal/backends"
	"codetax/internal/backends/git"
	cterrors "codetax/internal/errors"
	"codetax/internal/slogutil"
	"codetax/internal/testutil"
)

type countingSource struct {
	mu    sync.Mutex
	revs  map[string]string
	calls map[string]int
}

func (s *countingSource) ShortRevision(_ context.Context, repo string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[repo]++
	rev, ok := s.revs[repo]
	if !ok {
		return "", errors.New("not a git repository")
	}
	return rev, nil
}

func noon() time.Time { return time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC) }

func newSource(revs map[string]string) *countingSource {
	return &countingSource{revs: revs, calls: map[string]int{}}
}

func TestGitHub_Link(t *testing.T) {
	src := newSource(map[string]string{"frontend": "abc1234", "publisher": "def5678"})
	g := NewGitHub(src, "", "")

	tests := []struct {
		path string
		line int
		want string
	}{
		{"frontend/app/views/page.html", 3, "https://github.com/alphagov/frontend/blob/abc1234/app/views/page.html#L3"},
		{"./frontend/lib/x.rb", 10, "https://github.com/alphagov/frontend/blob/abc1234/lib/x.rb#L10"},
		{"publisher/a.py", 1, "https://github.com/alphagov/publisher/blob/def5678/a.py#L1"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := g.Link(context.Background(), backends.Match{Path: tt.path, LineNumber: tt.line})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 1, src.calls["frontend"], "revision resolved once per repository")
}

func TestGitHub_CustomHostAndOrg(t *testing.T) {
	g := NewGitHub(newSource(map[string]string{"repo": "r1"}), "git.example.com", "acme")
	got, err := g.Link(context.Background(), backends.Match{Path: "repo/f.go", LineNumber: 7})
	require.NoError(t, err)
	assert.Equal(t, "https://git.example.com/acme/repo/blob/r1/f.go#L7", got)
}

func TestGitHub_Unavailable(t *testing.T) {
	src := newSource(nil)
	g := NewGitHub(src, "", "")

	for _, p := range []string{"/abs/path/f.go", "toplevel.go", "../outside/f.go", "missing/f.go"} {
		_, err := g.Link(context.Background(), backends.Match{Path: p, LineNumber: 1})
		assert.True(t, cterrors.HasCode(err, cterrors.LinkUnavailable), "path %s: %v", p, err)
	}
	_, _ = g.Link(context.Background(), backends.Match{Path: "missing/g.go", LineNumber: 1})
	assert.Equal(t, 1, src.calls["missing"], "failures are cached")
}

func TestGitHub_ConcurrentUse(t *testing.T) {
	src := newSource(map[string]string{"repo": "r1"})
	g := NewGitHub(src, "", "")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(line int) {
			defer wg.Done()
			_, err := g.Link(context.Background(), backends.Match{Path: "repo/f.go", LineNumber: line})
			assert.NoError(t, err)
		}(i + 1)
	}
	wg.Wait()
	assert.Equal(t, 1, src.calls["repo"])
}

func TestGitHub_WithGitClient(t *testing.T) {
	testutil.RequireGit(t)
	root := t.TempDir()
	repo := testutil.NewGitRepo(t, filepath.Join(root, "service"))
	head := repo.Commit(noon(), "initial", map[string]string{"a.go": "package a\n"})

	testutil.Chdir(t, root)
	g := NewGitHub(git.NewClient(0, slogutil.NewDiscardLogger()), "", "")
	got, err := g.Link(context.Background(), backends.Match{Path: "service/a.go", LineNumber: 1})
	require.NoError(t, err)
	assert.Contains(t, got, "https://github.com/alphagov/service/blob/")
	assert.Contains(t, got, "/a.go#L1")
	assert.Contains(t, head, got[len("https://github.com/alphagov/service/blob/"):len(got)-len("/a.go#L1")])
}
