package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"codetax/internal/backends"
	"codetax/internal/backends/git"
	"codetax/internal/backends/native"
	"codetax/internal/backends/ripgrep"
	cterrors "codetax/internal/errors"
	"codetax/internal/links"
	"codetax/internal/metrics"
	"codetax/internal/paths"
	"codetax/internal/taxfile"
	"codetax/internal/taxonomy"
)

// newContext returns a context cancelled on interrupt
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// loadHierarchy builds the configured taxonomy
func loadHierarchy() (*taxonomy.Hierarchy, error) {
	path := paths.Resolve(workDir, cfg.Taxonomy.File)
	logger.Debug("Loading taxonomy", "path", path)
	return taxfile.LoadHierarchy(path, taxonomy.BuildOptions{
		SkipInvalidRules: cfg.Taxonomy.SkipInvalidRules,
		Logger:           logger,
	})
}

// selectRules resolves an epic key to its rules
func selectRules(h *taxonomy.Hierarchy, key string) ([]*taxonomy.Rule, error) {
	rules, ok := h.RulesForKey(key)
	if !ok {
		return nil, cterrors.NewError(cterrors.ConfigurationError,
			fmt.Sprintf("unknown epic key %q", key), nil, []cterrors.FixAction{{
				Type:        cterrors.RunCommand,
				Command:     "codetax epics",
				Safe:        true,
				Description: "List the available epic keys",
			}}).WithDetails(map[string]interface{}{"keys": h.EpicKeys()})
	}
	return rules, nil
}

// newBackend picks the search backend named by search.backend
func newBackend() (backends.SearchBackend, error) {
	rg := ripgrep.NewAdapter(cfg.Search.RipgrepPath, millis(cfg.Search.TimeoutMs), logger)
	switch cfg.Search.Backend {
	case "rg":
		if !rg.IsAvailable() {
			return nil, cterrors.NewError(cterrors.BackendUnavailable,
				fmt.Sprintf("ripgrep binary %q not found", cfg.Search.RipgrepPath), nil, nil)
		}
		return rg, nil
	case "native":
		return native.NewWalker(logger), nil
	default:
		if rg.IsAvailable() {
			return rg, nil
		}
		logger.Info("ripgrep not found, using native backend")
		return native.NewWalker(logger), nil
	}
}

type engineOptions struct {
	links    bool
	observer taxonomy.Observer
	workers  int
}

// newEngine creates an engine over the configured backend
func newEngine(opts engineOptions) (*taxonomy.Engine, error) {
	backend, err := newBackend()
	if err != nil {
		return nil, err
	}
	workers := opts.workers
	if workers == 0 {
		workers = cfg.Search.Workers
	}

	eo := taxonomy.Options{Logger: logger, Workers: workers, Observer: opts.observer}
	if opts.links && cfg.Links.Enabled {
		client := newGitClient()
		eo.NewLinker = func() taxonomy.Linker {
			return links.NewGitHub(client, cfg.Links.Host, cfg.Links.Org)
		}
	}
	return taxonomy.NewEngine(backend, eo), nil
}

func newGitClient() *git.Client {
	return git.NewClient(millis(cfg.Git.TimeoutMs), logger)
}

// newMetrics returns the process metrics, or nil when export is disabled
func newMetrics() (*metrics.Metrics, error) {
	if cfg.Metrics.Textfile == "" {
		return nil, nil
	}
	return metrics.New()
}

func writeMetrics(m *metrics.Metrics) {
	if m == nil {
		return
	}
	path := paths.Resolve(workDir, cfg.Metrics.Textfile)
	if err := m.WriteTextfile(path); err != nil {
		logger.Warn("Failed to write metrics", "path", path, "error", err)
	}
}

// observer converts a possibly nil *Metrics without producing a non-nil
// interface holding a nil pointer
func observer(m *metrics.Metrics) taxonomy.Observer {
	if m == nil {
		return nil
	}
	return m
}

// printError writes err and its suggested fixes
func printError(w io.Writer, err error) {
	var ce *cterrors.CodetaxError
	if !errors.As(err, &ce) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "Error: %s\n", ce.Error())
	if details, ok := ce.Details.(map[string]interface{}); ok {
		if problems, ok := details["problems"].([]string); ok {
			for _, p := range problems {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
		if keys, ok := details["keys"].([]string); ok {
			fmt.Fprintf(w, "  available keys: %s\n", strings.Join(keys, ", "))
		}
	}
	for _, fix := range ce.SuggestedFixes {
		switch {
		case fix.Command != "":
			fmt.Fprintf(w, "  fix: %s  # %s\n", fix.Command, fix.Description)
		case fix.URL != "":
			fmt.Fprintf(w, "  fix: %s (%s)\n", fix.Description, fix.URL)
		default:
			fmt.Fprintf(w, "  fix: %s\n", fix.Description)
		}
	}
}
