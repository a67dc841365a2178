package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"codetax/internal/backends/git"
	cterrors "codetax/internal/errors"
	"codetax/internal/history"
	"codetax/internal/metrics"
	"codetax/internal/paths"
	"codetax/internal/report"
	"codetax/internal/taxonomy"
	"codetax/internal/temporal"
)

const dateLayout = "2006-01-02"

var (
	historyFrom  string
	historyTo    string
	historySave  bool
	historyPaths []string
)

var historyCmd = &cobra.Command{
	Use:   "history <epic-key>",
	Short: "Count matches of an epic key week by week",
	Long: `Check out every searched repository at the last merge before each weekly
date and print date,count rows as each date is classified.

Every repository must be a clean git checkout on a branch. Repositories are
returned to their branch afterwards, also when the run fails.

Examples:
  codetax history banner --from-date 2021-01-04
  codetax history all --from-date 2021-01-04 --to-date 2021-06-28 --save`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyFrom, "from-date", "", "First date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyTo, "to-date", "", "Last date (YYYY-MM-DD, default today)")
	historyCmd.Flags().BoolVar(&historySave, "save", false, "Store the run in the history database")
	historyCmd.Flags().StringArrayVarP(&historyPaths, "path", "p", nil, "Search this path instead of the rules' paths (repeatable)")
	_ = historyCmd.MarkFlagRequired("from-date")
	rootCmd.AddCommand(historyCmd)
}

func parseDateRange(from, to string) (temporal.DateRange, error) {
	var dr temporal.DateRange
	var err error
	if dr.From, err = time.Parse(dateLayout, from); err != nil {
		return dr, cterrors.NewError(cterrors.ConfigurationError, fmt.Sprintf("invalid from date %q", from), err, nil)
	}
	if to != "" {
		if dr.To, err = time.Parse(dateLayout, to); err != nil {
			return dr, cterrors.NewError(cterrors.ConfigurationError, fmt.Sprintf("invalid to date %q", to), err, nil)
		}
	}
	return dr, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	key := args[0]
	dr, err := parseDateRange(historyFrom, historyTo)
	if err != nil {
		return err
	}
	dr = dr.Resolve(time.Now())

	h, err := loadHierarchy()
	if err != nil {
		return err
	}
	rules, err := selectRules(h, key)
	if err != nil {
		return err
	}

	m, err := newMetrics()
	if err != nil {
		return err
	}
	defer writeMetrics(m)

	engine, err := newEngine(engineOptions{observer: observer(m), workers: 1})
	if err != nil {
		return err
	}

	var store *history.Store
	if historySave || cfg.History.Enabled {
		store, err = history.OpenStore(paths.Resolve(workDir, cfg.History.Path), logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	driver := temporal.NewDriver(newGitClient(), engine, temporal.Options{
		Filter: git.RevisionFilter{MergesOnly: cfg.Git.MergesOnly, BranchGlob: cfg.Git.BranchGlob},
		Logger: logger,
	})

	ctx, cancel := newContext()
	defer cancel()

	rec := &runRecorder{store: store, metrics: m, key: key, taxonomy: cfg.Taxonomy.File, dr: dr}
	hw := report.NewHistoryWriter(cmd.OutOrStdout())
	req := taxonomy.Request{Rules: rules, Paths: historyPaths}

	result, err := driver.Run(ctx, req, dr, func(p temporal.Point) error {
		if err := rec.point(p); err != nil {
			return err
		}
		return hw.WritePoint(p)
	})

	if result != nil {
		for _, f := range result.RestoreFailures {
			logger.Error("Failed to restore repository", "path", f.Path, "branch", f.Branch, "error", f.Err)
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s was not returned to %s: %v\n", f.Path, f.Branch, f.Err)
		}
		rec.finish(result, err)
	}
	return err
}

// runRecorder persists points and updates metrics as they are emitted. The
// run row is only created once the first point exists, so runs aborted
// before any checkout leave nothing behind.
type runRecorder struct {
	store    *history.Store
	metrics  *metrics.Metrics
	key      string
	taxonomy string
	dr       temporal.DateRange
	run      *history.Run
}

func (r *runRecorder) point(p temporal.Point) error {
	if r.metrics != nil {
		r.metrics.ObservePoint(p)
	}
	if r.store == nil {
		return nil
	}
	if r.run == nil {
		r.run = history.NewRun(r.key, r.taxonomy, r.dr)
		if err := r.store.CreateRun(r.run); err != nil {
			return err
		}
	}
	return r.store.AddPoint(r.run.ID, p)
}

func (r *runRecorder) finish(result *temporal.Result, runErr error) {
	if r.run == nil {
		return
	}
	now := time.Now().UTC()
	r.run.CompletedAt = &now
	r.run.Collaborators = result.Collaborators
	r.run.Status = history.RunCompleted
	if runErr != nil {
		r.run.Status = history.RunFailed
		r.run.Error = runErr.Error()
	}
	if err := r.store.FinishRun(r.run); err != nil {
		logger.Warn("Failed to record run", "runId", r.run.ID, "error", err)
		return
	}
	logger.Info("Stored run", "runId", r.run.ID, "points", len(result.Points))
}
