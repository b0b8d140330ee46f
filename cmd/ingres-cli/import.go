package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ingres-ai/ingres-assistant/internal/storage"
)

type importResult struct {
	Assessments int `json:"assessments"`
	Trends      int `json:"trends"`
	Locations   int `json:"locations"`
}

func newImportCmd() *cobra.Command {
	var (
		assessments string
		trends      string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load the assessment and trend CSV files into the database",
		Long: `Import replaces the assessment table with the rows of --csv. The first five
columns are read as state, district, block, extraction and category.

--trends optionally replaces the state trend table. Both long (state, year,
extraction) and wide (one column per year) layouts are accepted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if assessments == "" {
				return fmt.Errorf("--csv is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			ui := NewUI(outputJSON, noColor)

			db, err := storage.OpenDB(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			var res importResult

			res.Assessments, err = importFile(ui, assessments, "assessments", func(f *os.File, opts storage.ImportOptions) (int, error) {
				opts.Table = cfg.Database.Table
				return storage.ImportAssessments(ctx, db, f, opts)
			})
			if err != nil {
				return err
			}
			ui.Success("Imported %d assessment rows from %s", res.Assessments, assessments)

			if trends != "" {
				res.Trends, err = importFile(ui, trends, "trends", func(f *os.File, opts storage.ImportOptions) (int, error) {
					opts.Table = cfg.Database.TrendTable
					return storage.ImportTrends(ctx, db, f, opts)
				})
				if err != nil {
					return err
				}
				ui.Success("Imported %d trend rows from %s", res.Trends, trends)
			}

			ds, err := storage.NewDataset(ctx, logger, db, cfg.Database)
			if err != nil {
				return fmt.Errorf("verify import: %w", err)
			}
			locations, err := ds.DistinctLocations(ctx)
			if err != nil {
				return fmt.Errorf("verify import: %w", err)
			}
			res.Locations = len(locations)

			if outputJSON {
				return printJSON(res)
			}
			ui.Info("%d distinct locations available for indexing", res.Locations)
			if cfg.Index.SnapshotPath != "" {
				ui.Warning("Run 'ingres-cli index build --force' to refresh the location index")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&assessments, "csv", "", "assessment CSV file (required)")
	cmd.Flags().StringVar(&trends, "trends", "", "state trend CSV file")
	return cmd
}

func importFile(ui *UI, path, label string, run func(*os.File, storage.ImportOptions) (int, error)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", label, err)
	}
	defer f.Close()

	bar := ui.RowCounter("importing " + label)
	n, err := run(f, storage.ImportOptions{
		Driver: cfg.Database.Driver,
		Progress: func(rows int) {
			_ = bar.Set(rows)
		},
	})
	_ = bar.Finish()
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", label, err)
	}

	logger.Info().Str("file", path).Str("table", label).Int("rows", n).Msg("import complete")
	return n, nil
}
