package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newIntegrityCmd(getApp func() *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "integrity",
		Short: "Run reference-integrity checks against a branch",
	}

	var checkBranch string
	check := &cobra.Command{
		Use:   "check",
		Short: "Incremental check of what this branch's unpromoted changes broke",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := getApp().integrity.Check(cmd.Context(), checkBranch)
			if err != nil {
				return fmt.Errorf("checking %s: %w", checkBranch, err)
			}
			return printJSON(cmd, report)
		},
	}
	check.Flags().StringVar(&checkBranch, "branch", "", "branch path to check")
	check.MarkFlagRequired("branch")

	var sweepBranch string
	var sweepStated bool
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Full sweep of a branch's content against its own semantic index",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := getApp().integrity.Sweep(cmd.Context(), sweepBranch, sweepStated)
			if err != nil {
				return fmt.Errorf("sweeping %s: %w", sweepBranch, err)
			}
			return printJSON(cmd, report)
		},
	}
	sweep.Flags().StringVar(&sweepBranch, "branch", "", "branch path to sweep")
	sweep.Flags().BoolVar(&sweepStated, "stated", false, "sweep the stated form instead of the inferred form")
	sweep.MarkFlagRequired("branch")

	var fixBranch, fixParent string
	fix := &cobra.Command{
		Use:   "check-fix",
		Short: "Check a fix branch raised against a parent code system",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := getApp().integrity.CheckFix(cmd.Context(), fixBranch, fixParent)
			if err != nil {
				return fmt.Errorf("checking fix branch %s: %w", fixBranch, err)
			}
			return printJSON(cmd, report)
		},
	}
	fix.Flags().StringVar(&fixBranch, "branch", "", "fix branch path")
	fix.Flags().StringVar(&fixParent, "parent", "", "parent code system branch path")
	fix.MarkFlagRequired("branch")
	fix.MarkFlagRequired("parent")

	root.AddCommand(check, sweep, fix)
	return root
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
