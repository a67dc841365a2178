package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// GitRepo is a throwaway repository in a test temp dir
type GitRepo struct {
	t   *testing.T
	Dir string
}

// RequireGit skips the test when git is not installed
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// NewGitRepo initialises a repository whose current branch is main
func NewGitRepo(t *testing.T, dir string) *GitRepo {
	t.Helper()
	RequireGit(t)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create repo dir: %v", err)
	}
	r := &GitRepo{t: t, Dir: dir}
	r.Git(time.Time{}, "init", "--quiet")
	r.Git(time.Time{}, "symbolic-ref", "HEAD", "refs/heads/main")
	r.Git(time.Time{}, "config", "user.email", "test@example.com")
	r.Git(time.Time{}, "config", "user.name", "Test")
	r.Git(time.Time{}, "config", "commit.gpgsign", "false")
	return r
}

// Git runs a git command in the repo. A non-zero at sets author and
// committer dates.
func (r *GitRepo) Git(at time.Time, args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "HOME="+r.Dir)
	if !at.IsZero() {
		stamp := at.Format(time.RFC3339)
		cmd.Env = append(cmd.Env, "GIT_AUTHOR_DATE="+stamp, "GIT_COMMITTER_DATE="+stamp)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes a file relative to the repo root
func (r *GitRepo) WriteFile(name, content string) {
	r.t.Helper()
	p := filepath.Join(r.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		r.t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		r.t.Fatal(err)
	}
}

// Commit writes files and commits them on the current branch
func (r *GitRepo) Commit(at time.Time, msg string, files map[string]string) string {
	r.t.Helper()
	for name, content := range files {
		r.WriteFile(name, content)
	}
	r.Git(at, "add", "-A")
	r.Git(at, "commit", "--quiet", "-m", msg)
	return r.Head()
}

// MergeCommit commits files on a side branch and merges it into the current
// branch with --no-ff, returning the merge commit
func (r *GitRepo) MergeCommit(at time.Time, msg string, files map[string]string) string {
	r.t.Helper()
	base := r.Git(time.Time{}, "rev-parse", "--abbrev-ref", "HEAD")
	side := "side-" + at.Format("20060102150405")
	r.Git(time.Time{}, "checkout", "--quiet", "-b", side)
	r.Commit(at, msg, files)
	r.Git(time.Time{}, "checkout", "--quiet", base)
	r.Git(at, "merge", "--quiet", "--no-ff", "-m", "Merge "+msg, side)
	return r.Head()
}

// Head returns the full HEAD commit
func (r *GitRepo) Head() string {
	r.t.Helper()
	return r.Git(time.Time{}, "rev-parse", "HEAD")
}

// Branch returns the current branch name
func (r *GitRepo) Branch() string {
	r.t.Helper()
	return r.Git(time.Time{}, "rev-parse", "--abbrev-ref", "HEAD")
}

// Chdir changes the working directory to dir for the duration of the test
func Chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory %s: %v", prev, err)
		}
	})
}
