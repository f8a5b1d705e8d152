/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/sxnics_radio/internal/scheduler"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the upcoming running order",
	Long:  "Dry-run the scheduler against the current catalog, assuming every track plays to its full length",
	RunE:  runPlan,
}

var (
	planCount int
	planFrom  string
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().IntVar(&planCount, "count", 20, "Number of decisions to print")
	planCmd.Flags().StringVar(&planFrom, "from", "", "Start time in RFC3339 (default now)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	start := time.Now()
	if planFrom != "" {
		t, err := time.Parse(time.RFC3339, planFrom)
		if err != nil {
			return fmt.Errorf("parse --from: %w", err)
		}
		start = t
	}
	if planCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	view, issues, err := loadView(cmd.Context())
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		logger.Warn().Int("issues", len(issues)).Msg("some tracks were rejected; run 'catalog' for details")
	}

	steps := scheduler.Simulate(view, start, planCount, scheduler.Options{Buffer: cfg.GapBuffer})
	printPlan(cmd.OutOrStdout(), steps)
	return nil
}

func printPlan(out io.Writer, steps []scheduler.Step) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tACTION\tID\tDURATION\tTRACK")
	for _, st := range steps {
		action := st.Action.String()
		if st.Reset {
			action += " (reset)"
		}
		switch st.Action {
		case scheduler.ActionIdle:
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\n", st.At.Local().Format(time.DateTime), action)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				st.At.Local().Format(time.DateTime),
				action,
				st.Track.ID,
				st.Track.Duration().Round(time.Second),
				st.Track.DisplayName())
		}
	}
	w.Flush()
}
