// Package links builds browsable source URLs for classified matches.
package links

import (
	"context"
	"fmt"
	"sync"

	"codetax/internal/backends"
	cterrors "codetax/internal/errors"
	"codetax/internal/paths"
)

const (
	// DefaultHost is the web host links point at
	DefaultHost = "github.com"
	// DefaultOrg is the organisation owning every searched repository
	DefaultOrg = "alphagov"
)

// RevisionSource resolves the short HEAD revision of a repository
type RevisionSource interface {
	ShortRevision(ctx context.Context, repo string) (string, error)
}

type revision struct {
	rev string
	err error
}

// GitHub links a match to https://<host>/<org>/<repo>/blob/<rev>/<path>#L<n>,
// where repo is the first component of the match path. It keeps one
// revision per repository for its whole lifetime, so a GitHub must not
// outlive a classification run.
type GitHub struct {
	host string
	org  string
	revs RevisionSource

	mu    sync.Mutex
	cache map[string]revision
}

// NewGitHub creates a linker. Empty host or org use the defaults.
func NewGitHub(revs RevisionSource, host, org string) *GitHub {
	if host == "" {
		host = DefaultHost
	}
	if org == "" {
		org = DefaultOrg
	}
	return &GitHub{host: host, org: org, revs: revs, cache: make(map[string]revision)}
}

// Link returns the URL of m, or a LINK_UNAVAILABLE error when its repository
// revision cannot be read
func (g *GitHub) Link(ctx context.Context, m backends.Match) (string, error) {
	repo, rest, ok := paths.SplitRepo(m.Path)
	if !ok {
		return "", cterrors.NewError(cterrors.LinkUnavailable, "match path has no repository component", nil, nil).
			WithDetails(map[string]interface{}{"path": m.Path})
	}

	rev, err := g.revision(ctx, repo)
	if err != nil {
		return "", cterrors.NewError(cterrors.LinkUnavailable, "could not read revision of "+repo, err, nil)
	}
	return fmt.Sprintf("https://%s/%s/%s/blob/%s/%s#L%d", g.host, g.org, repo, rev, rest, m.LineNumber), nil
}

// revision returns the cached revision of repo, resolving it on first use.
// Failures are cached too.
func (g *GitHub) revision(ctx context.Context, repo string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.cache[repo]; ok {
		return r.rev, r.err
	}
	rev, err := g.revs.ShortRevision(ctx, repo)
	g.cache[repo] = revision{rev: rev, err: err}
	return rev, err
}
