/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/sxnics_radio/internal/catalog"
	"github.com/friendsincode/sxnics_radio/internal/config"
	"github.com/friendsincode/sxnics_radio/internal/db"
	"github.com/friendsincode/sxnics_radio/internal/server"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the track catalog",
	Long:  "Load the configured catalog, validate it and print appointments, rotation and rejected tracks",
	RunE:  runCatalog,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import tracks from a YAML file into the catalog database",
	Long:  "Upsert tracks from a YAML catalog file into the database catalog. Tracks are matched by id.",
	RunE:  runCatalogImport,
}

var catalogImportFile string

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd)

	catalogImportCmd.Flags().StringVar(&catalogImportFile, "file", "", "Path to a YAML catalog file (required)")
	catalogImportCmd.MarkFlagRequired("file")
}

// loadView reads the configured source once and builds a view.
func loadView(ctx context.Context) (*catalog.View, []catalog.Issue, error) {
	source, database, err := server.OpenCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}
	if database != nil {
		defer db.Close(database)
	}

	tracks, err := source.ListTracks(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", catalog.ErrCatalogUnavailable, err)
	}
	view, issues := catalog.Build(tracks, time.Now())
	return view, issues, nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	view, issues, err := loadView(cmd.Context())
	if err != nil {
		return err
	}
	printView(cmd.OutOrStdout(), view, issues)
	return nil
}

func printView(out io.Writer, view *catalog.View, issues []catalog.Issue) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "APPOINTMENTS (%d)\n", len(view.Appointments))
	fmt.Fprintln(w, "ID\tSTART\tEND\tDURATION\tTRACK")
	for _, t := range view.Appointments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Schedule.Start.Local().Format(time.DateTime),
			t.Schedule.End.Local().Format(time.DateTime),
			t.Duration().Round(time.Second),
			t.DisplayName())
	}

	fmt.Fprintf(w, "\nROTATION (%d)\n", len(view.Rotation))
	fmt.Fprintln(w, "ID\tDURATION\tTRACK")
	for _, t := range view.Rotation {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Duration().Round(time.Second), t.DisplayName())
	}

	if len(issues) > 0 {
		fmt.Fprintf(w, "\nREJECTED (%d)\n", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(w, "%s\t%s\n", issue.TrackID, issue.Reason)
		}
	}
	w.Flush()
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.CatalogBackend != config.CatalogDB {
		return fmt.Errorf("catalog import requires the db catalog backend, configured %q", cfg.CatalogBackend)
	}

	data, err := os.ReadFile(catalogImportFile)
	if err != nil {
		return fmt.Errorf("read catalog file: %w", err)
	}
	tracks, err := catalog.ParseFile(data)
	if err != nil {
		return err
	}

	// Surface problems before writing; invalid rows are still stored so they
	// can be fixed in place.
	_, issues := catalog.Build(tracks, time.Now())
	for _, issue := range issues {
		logger.Warn().Str("track_id", issue.TrackID).Str("reason", issue.Reason).Msg("track will be skipped by the scheduler")
	}

	_, database, err := server.OpenCatalog(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)

	n, err := catalog.NewDBSource(database).Import(cmd.Context(), tracks)
	if err != nil {
		return err
	}

	logger.Info().
		Str("file", catalogImportFile).
		Int("tracks", n).
		Int("issues", len(issues)).
		Msg("catalog import complete")
	return nil
}
