// Package git is the revision-control collaborator: it reads revisions and
// working tree state of the repositories a taxonomy searches, and checks
// them out for historical runs.
package git

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	cterrors "codetax/internal/errors"
	"codetax/internal/repostate"
)

const (
	// DefaultQueryTimeout is the default timeout for git operations (5000ms)
	DefaultQueryTimeout = 5000 * time.Millisecond

	// DefaultBranchGlob matches main and master
	DefaultBranchGlob = "ma*"
)

// RevisionFilter restricts which commits RevisionBefore may return
type RevisionFilter struct {
	MergesOnly bool
	BranchGlob string
}

// DefaultRevisionFilter returns merge commits on main or master
func DefaultRevisionFilter() RevisionFilter {
	return RevisionFilter{MergesOnly: true, BranchGlob: DefaultBranchGlob}
}

// Client runs git against any repository path
type Client struct {
	binary       string
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewClient creates a git client. A zero timeout uses DefaultQueryTimeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Client{binary: "git", queryTimeout: timeout, logger: logger}
}

// IsAvailable checks if git is on PATH
func (c *Client) IsAvailable() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// ShortRevision returns the abbreviated HEAD commit of repo
func (c *Client) ShortRevision(ctx context.Context, repo string) (string, error) {
	return c.executeGitCommand(ctx, repo, "rev-parse", "--short", "HEAD")
}

// Status returns the working tree state of repo
func (c *Client) Status(ctx context.Context, repo string) (*repostate.RepoState, error) {
	out, err := c.executeGitCommand(ctx, repo, "status", "--porcelain=v2", "--branch")
	if err != nil {
		return nil, err
	}
	state, err := repostate.Parse(out)
	if err != nil {
		return nil, cterrors.NewError(cterrors.InternalError, "Unexpected git status output", err, nil).
			WithDetails(map[string]interface{}{"repo": repo})
	}
	return state, nil
}

// RevisionBefore returns the most recent commit at or before date that
// passes filter, or "" when the history does not reach back that far.
func (c *Client) RevisionBefore(ctx context.Context, repo string, date time.Time, filter RevisionFilter) (string, error) {
	args := []string{"rev-list", "-1", "--before=" + date.Format("2006-01-02")}
	if filter.MergesOnly {
		args = append(args, "--merges")
	}
	if filter.BranchGlob != "" {
		args = append(args, "--branches="+filter.BranchGlob)
	} else {
		args = append(args, "HEAD")
	}
	return c.executeGitCommand(ctx, repo, args...)
}

// Checkout switches repo to a branch or commit
func (c *Client) Checkout(ctx context.Context, repo, revision string) error {
	_, err := c.executeGitCommand(ctx, repo, "checkout", "--quiet", revision)
	return err
}

// executeGitCommand runs a git command in repo with timeout and returns the
// trimmed output
func (c *Client) executeGitCommand(ctx context.Context, repo string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	fullArgs := append([]string{"-C", repo}, args...)
	cmd := exec.CommandContext(ctx, c.binary, fullArgs...)

	c.logger.Debug("Executing git command",
		"args", fullArgs,
		"timeout", c.queryTimeout.String(),
	)

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", cterrors.NewError(cterrors.Timeout, "Git command timed out", err, nil).
				WithDetails(map[string]interface{}{"repo": repo, "args": args})
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", cterrors.NewError(cterrors.InternalError, "Git command failed", err, nil).
				WithDetails(map[string]interface{}{
					"repo":   repo,
					"args":   args,
					"stderr": strings.TrimSpace(string(exitErr.Stderr)),
				})
		}

		return "", cterrors.NewError(cterrors.BackendUnavailable, "Failed to execute git", err, []cterrors.FixAction{
			{
				Type:        cterrors.InstallTool,
				Tool:        "git",
				Description: "Install git",
				Methods:     []cterrors.InstallMethod{cterrors.Brew, cterrors.Apt},
			},
		})
	}

	return strings.TrimSpace(string(output)), nil
}
