package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"codetax/internal/paths"
	"codetax/internal/taxonomy"
	"codetax/internal/temporal"
	"codetax/internal/watcher"
)

var watchPaths []string

var watchCmd = &cobra.Command{
	Use:   "watch <epic-key>",
	Short: "Re-print the epic summary whenever searched files change",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringArrayVarP(&watchPaths, "path", "p", nil, "Search this path instead of the rules' paths (repeatable)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	h, err := loadHierarchy()
	if err != nil {
		return err
	}
	rules, err := selectRules(h, args[0])
	if err != nil {
		return err
	}
	engine, err := newEngine(engineOptions{})
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	req := taxonomy.Request{Rules: rules, Paths: watchPaths}
	out := cmd.OutOrStdout()

	var mu sync.Mutex
	summarise := func() {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "# %s\n", time.Now().Format(time.RFC3339))
		if err := writeSummary(ctx, out, engine, req); err != nil && ctx.Err() == nil {
			logger.Error("Summary failed", "error", err)
		}
	}

	wcfg := watcher.DefaultConfig()
	wcfg.DebounceMs = cfg.Watch.DebounceMs
	w, err := watcher.New(wcfg, logger, func(events []watcher.Event) {
		changed := make([]string, 0, len(events))
		for _, e := range events {
			if rel, err := paths.CanonicalizePath(e.Path, workDir); err == nil {
				changed = append(changed, rel)
			}
		}
		logger.Info("Files changed", "count", len(events), "files", changed)
		summarise()
	})
	if err != nil {
		return err
	}
	for _, root := range temporal.Collaborators(req) {
		if err := w.Add(root); err != nil {
			return err
		}
	}

	logger.Info("Watching for changes", "roots", w.WatchedRoots())

	summarise()
	return w.Run(ctx)
}
