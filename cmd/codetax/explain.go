package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cterrors "codetax/internal/errors"
	"codetax/internal/report"
)

var explainFormat string

var explainCmd = &cobra.Command{
	Use:   "explain <rule>",
	Short: "Show a rule's resolved pattern, scope and ancestry",
	Long: `Show how a rule resolves: its ancestors, epic, inherited scope, every
fragment value and the compiled regular expression.

Examples:
  codetax explain TemplateInclude
  codetax explain Banner --format toml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := loadHierarchy()
		if err != nil {
			return err
		}
		r, ok := h.Rule(args[0])
		if !ok {
			return cterrors.NewError(cterrors.ConfigurationError, fmt.Sprintf("unknown rule %q", args[0]), nil, []cterrors.FixAction{})
		}
		return report.WriteExplain(cmd.OutOrStdout(), report.Explain(r), explainFormat)
	},
}

func init() {
	explainCmd.Flags().StringVarP(&explainFormat, "format", "f", "plain", "Output format (plain, json, toml)")
	rootCmd.AddCommand(explainCmd)
}
