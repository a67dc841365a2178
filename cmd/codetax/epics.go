package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var epicsCmd = &cobra.Command{
	Use:   "epics",
	Short: "List epic keys and the rules they select",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := loadHierarchy()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, key := range h.EpicKeys() {
			rules, _ := h.RulesForKey(key)
			names := make([]string, len(rules))
			for i, r := range rules {
				names[i] = r.Name()
			}
			fmt.Fprintf(out, "%s: %s\n", key, strings.Join(names, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(epicsCmd)
}
