package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"codetax/internal/history"
	"codetax/internal/paths"
	"codetax/internal/report"
)

var (
	runsLimit  int
	runsKey    string
	runsFormat string
	runsForce  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored history runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the points of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run and its points",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	runsDeleteCmd.Flags().BoolVar(&runsForce, "force", false, "Also delete a run that is still marked running")
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")
	runsCmd.Flags().StringVar(&runsKey, "key", "", "Only runs of this epic key")
	runsShowCmd.Flags().StringVarP(&runsFormat, "format", "f", "csv", "Output format (csv, json)")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openHistory() (*history.Store, error) {
	return history.OpenStore(paths.Resolve(workDir, cfg.History.Path), logger)
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(runsKey, runsLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tFROM\tTO\tSTATUS\tPOINTS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.EpicKey, r.From.Format(dateLayout), r.To.Format(dateLayout),
			r.Status, r.PointCount, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", args[0])
	}
	points, err := store.Points(run.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch runsFormat {
	case "csv":
		hw := report.NewHistoryWriter(out)
		for _, p := range points {
			if err := hw.WritePoint(p); err != nil {
				return err
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*history.Run
			Points interface{} `json:"points"`
		}{run, points})
	default:
		return fmt.Errorf("unsupported format: %s", runsFormat)
	}
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", args[0])
	}
	if !run.IsTerminal() && !runsForce {
		return fmt.Errorf("run %s is still %s, use --force to delete it anyway", run.ID, run.Status)
	}
	if err := store.DeleteRun(run.ID); err != nil {
		return err
	}
	logger.Info("Deleted run", "runId", run.ID, "points", run.PointCount)
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", run.ID)
	return nil
}
