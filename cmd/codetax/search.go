package main

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"codetax/internal/report"
	"codetax/internal/taxonomy"
)

var (
	searchFormat  string
	searchSummary bool
	searchPaths   []string
)

var searchCmd = &cobra.Command{
	Use:   "search <epic-key>",
	Short: "List matches of an epic key",
	Long: `Search the rules selected by an epic key and print every classified match.

The key "all" selects every root rule. Other keys are lower-cased epic names
with spaces replaced by hyphens; run "codetax epics" to list them.

Examples:
  codetax search all
  codetax search banner --format csv > banner.csv
  codetax search all --summary
  codetax search python --path ./service-a --path ./service-b`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchFormat, "format", "f", "plain", "Output format (plain, csv, json)")
	searchCmd.Flags().BoolVar(&searchSummary, "summary", false, "Print epic,count totals instead of matches")
	searchCmd.Flags().StringArrayVarP(&searchPaths, "path", "p", nil, "Search this path instead of the rules' paths (repeatable)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	start := time.Now()
	format, err := report.ParseFormat(searchFormat)
	if err != nil {
		return err
	}

	h, err := loadHierarchy()
	if err != nil {
		return err
	}
	rules, err := selectRules(h, args[0])
	if err != nil {
		return err
	}

	m, err := newMetrics()
	if err != nil {
		return err
	}
	defer writeMetrics(m)

	engine, err := newEngine(engineOptions{
		links:    !searchSummary && format != report.FormatPlain,
		observer: observer(m),
	})
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	req := taxonomy.Request{Rules: rules, Paths: searchPaths}
	out := cmd.OutOrStdout()
	if searchSummary {
		err = writeSummary(ctx, out, engine, req)
	} else {
		err = writeMatches(ctx, out, engine, req, format)
	}
	if err != nil {
		return err
	}

	logger.Info("Search completed", "key", args[0], "duration", time.Since(start))
	return nil
}

func writeMatches(ctx context.Context, out io.Writer, engine *taxonomy.Engine, req taxonomy.Request, format report.OutputFormat) error {
	mw, err := report.NewMatchWriter(out, format)
	if err != nil {
		return err
	}
	if err := engine.Classify(ctx, req, mw.Write); err != nil {
		_ = mw.Close()
		return err
	}
	return mw.Close()
}

func writeSummary(ctx context.Context, out io.Writer, engine *taxonomy.Engine, req taxonomy.Request) error {
	matches, err := engine.Collect(ctx, req)
	if err != nil {
		return err
	}
	return report.WriteSummary(out, taxonomy.EpicCounts(matches))
}
