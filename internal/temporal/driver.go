// Package temporal repeats a classification pass at weekly points in the past
// by checking out, in every searched repository, the last merge before each
// date.
package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"codetax/internal/backends/git"
	cterrors "codetax/internal/errors"
	"codetax/internal/repostate"
	"codetax/internal/slogutil"
	"codetax/internal/taxonomy"
)

// VCS is the revision-control collaborator the driver needs
type VCS interface {
	Status(ctx context.Context, repo string) (*repostate.RepoState, error)
	RevisionBefore(ctx context.Context, repo string, date time.Time, filter git.RevisionFilter) (string, error)
	Checkout(ctx context.Context, repo, revision string) error
}

// DateRange is an inclusive range of days. A zero To means today.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Resolve fills a zero To with the calendar day of now, expressed in the
// location of From
func (r DateRange) Resolve(now time.Time) DateRange {
	if r.To.IsZero() {
		r.To = calendarDay(now, r.From.Location())
	}
	return r
}

// Dates returns From, From+7d, ... up to and including To. Both ends are
// compared as calendar days in the location of From.
func (r DateRange) Dates() []time.Time {
	loc := r.From.Location()
	end := calendarDay(r.To, loc)
	var out []time.Time
	for d := calendarDay(r.From, loc); !d.After(end); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

// Point is the outcome of one classification pass
type Point struct {
	Date      time.Time         `json:"date"`
	Count     int               `json:"count"`
	Epics     map[string]int    `json:"epics"`
	Revisions map[string]string `json:"revisions"`
}

// Collaborator is a repository touched by a run and the branch it was on
type Collaborator struct {
	Path    string `json:"path"`
	Branch  string `json:"branch"`
	StateID string `json:"stateId"`
}

// RestoreFailure records a repository left away from its original branch
type RestoreFailure struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Err    error  `json:"-"`
}

// Result is what a run produced. RestoreFailures are never fatal.
type Result struct {
	Collaborators   []Collaborator
	Points          []Point
	RestoreFailures []RestoreFailure
}

// Options configures a Driver
type Options struct {
	Filter git.RevisionFilter
	Logger *slog.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Driver runs classifications over a date range
type Driver struct {
	vcs    VCS
	engine *taxonomy.Engine
	opts   Options
	logger *slog.Logger
}

// NewDriver creates a driver. The engine is used sequentially.
func NewDriver(vcs VCS, engine *taxonomy.Engine, opts Options) *Driver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Driver{vcs: vcs, engine: engine.Sequential(), opts: opts, logger: logger}
}

// Collaborators returns the distinct search paths of every rule in the
// requested subtrees, or the override paths when given, sorted
func Collaborators(req taxonomy.Request) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(req.Paths) > 0 {
		for _, p := range req.Paths {
			add(p)
		}
	} else {
		for _, r := range req.Rules {
			for _, sub := range taxonomy.Enumerate(r, true) {
				for _, p := range sub.Scope().Paths {
					add(p)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// Run checks every collaborator, resolves a revision per date and
// collaborator, then classifies each date in turn and emits its point.
// Nothing is checked out unless every precondition holds. Every
// collaborator that was checked out is put back on its branch before Run
// returns, even when it fails or ctx is cancelled.
func (d *Driver) Run(ctx context.Context, req taxonomy.Request, dr DateRange, emit func(Point) error) (result *Result, err error) {
	dr = dr.Resolve(d.opts.Now())
	dates := dr.Dates()
	if len(dates) == 0 {
		return nil, cterrors.NewError(cterrors.ConfigurationError,
			fmt.Sprintf("from date %s is after to date %s", day(dr.From), day(dr.To)), nil, nil)
	}

	repos := Collaborators(req)
	collaborators, err := d.checkPreconditions(ctx, repos)
	if err != nil {
		return nil, err
	}

	revisions, err := d.resolveRevisions(ctx, repos, dates)
	if err != nil {
		return nil, err
	}

	result = &Result{Collaborators: collaborators}
	mutated := make(map[string]bool)
	defer func() {
		result.RestoreFailures = d.restore(ctx, collaborators, mutated)
	}()

	for i, date := range dates {
		point := Point{Date: date, Epics: make(map[string]int), Revisions: make(map[string]string)}
		for _, repo := range repos {
			rev := revisions[repo][i]
			mutated[repo] = true
			if err := d.vcs.Checkout(ctx, repo, rev); err != nil {
				return result, err
			}
			point.Revisions[repo] = rev
		}

		d.logger.Info("Classifying revision", "date", day(date), "revisions", point.Revisions)
		err := d.engine.Classify(ctx, req, func(cm taxonomy.ClassifiedMatch) error {
			point.Count++
			for _, e := range cm.Epics {
				point.Epics[e]++
			}
			return nil
		})
		if err != nil {
			return result, err
		}

		result.Points = append(result.Points, point)
		if emit != nil {
			if err := emit(point); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

// checkPreconditions requires every collaborator to be a clean checkout on a
// named branch and reports every failure at once
func (d *Driver) checkPreconditions(ctx context.Context, repos []string) ([]Collaborator, error) {
	var collaborators []Collaborator
	var problems []string

	for _, repo := range repos {
		state, err := d.vcs.Status(ctx, repo)
		if err != nil {
			problems = append(problems, fmt.Sprintf("git status failed for %s: %v", repo, err))
			continue
		}
		if state.Detached {
			problems = append(problems, fmt.Sprintf("git repo %s is in a detached state, check out a branch first", repo))
		}
		if !state.Clean() {
			problems = append(problems, fmt.Sprintf("git repo %s has changes, stash them first", repo))
		}
		collaborators = append(collaborators, Collaborator{Path: repo, Branch: state.Branch, StateID: state.RepoStateID})
	}

	if len(problems) > 0 {
		for _, p := range problems {
			d.logger.Warn(p)
		}
		return nil, cterrors.NewError(cterrors.RevisionResolutionFailure,
			"history requires every search path to be a clean git checkout on a branch", nil, nil).
			WithDetails(map[string]interface{}{"problems": problems})
	}
	return collaborators, nil
}

// resolveRevisions finds a revision for every repo and date, or fails naming
// the earliest date some repo cannot satisfy
func (d *Driver) resolveRevisions(ctx context.Context, repos []string, dates []time.Time) (map[string][]string, error) {
	out := make(map[string][]string, len(repos))
	var missing []map[string]string
	var earliest time.Time
	var earliestRepo string

	for _, repo := range repos {
		revs := make([]string, len(dates))
		for i, date := range dates {
			rev, err := d.vcs.RevisionBefore(ctx, repo, date, d.opts.Filter)
			if err != nil {
				return nil, cterrors.NewError(cterrors.RevisionResolutionFailure,
					fmt.Sprintf("could not resolve a revision before %s for %s", day(date), repo), err, nil)
			}
			if rev == "" {
				missing = append(missing, map[string]string{"path": repo, "date": day(date)})
				if earliest.IsZero() || date.Before(earliest) {
					earliest, earliestRepo = date, repo
				}
			}
			revs[i] = rev
		}
		out[repo] = revs
	}

	if len(missing) > 0 {
		return nil, cterrors.NewError(cterrors.RevisionResolutionFailure,
			fmt.Sprintf("date %s is too far in the past for %s", day(earliest), earliestRepo), nil, nil).
			WithDetails(map[string]interface{}{"unsatisfiable": missing})
	}
	return out, nil
}

// restore puts every mutated collaborator back on its branch. It runs with a
// context that ignores cancellation of ctx.
func (d *Driver) restore(ctx context.Context, collaborators []Collaborator, mutated map[string]bool) []RestoreFailure {
	restoreCtx := context.WithoutCancel(ctx)
	var failures []RestoreFailure
	for _, c := range collaborators {
		if !mutated[c.Path] {
			continue
		}
		if err := d.vcs.Checkout(restoreCtx, c.Path, c.Branch); err != nil {
			d.logger.Warn("Could not restore branch", "path", c.Path, "branch", c.Branch, "error", err)
			failures = append(failures, RestoreFailure{
				Path:   c.Path,
				Branch: c.Branch,
				Err:    cterrors.NewError(cterrors.RestoreFailure, "could not check out "+c.Branch+" in "+c.Path, err, nil),
			})
		}
	}
	return failures
}

func calendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

func day(t time.Time) string {
	return t.Format("2006-01-02")
}
