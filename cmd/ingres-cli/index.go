package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ingres-ai/ingres-assistant/internal/app"
	"github.com/ingres-ai/ingres-assistant/internal/index"
)

type indexReport struct {
	Model   string                         `json:"model"`
	BuiltAt time.Time                      `json:"builtAt"`
	Rebuilt bool                           `json:"rebuilt"`
	Ready   bool                           `json:"ready"`
	Indices map[index.Category]index.Stats `json:"indices"`
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or inspect the embedding indices",
	}
	cmd.AddCommand(newIndexBuildCmd())
	cmd.AddCommand(newIndexStatsCmd())
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Embed locations, concepts, causes and tips",
		Long: `Build loads the index snapshot and embeds every category again when the
snapshot is missing, unreadable or was made with a different model.
--force always rebuilds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			ui := NewUI(outputJSON, noColor)
			opts := app.Options{ForceRebuild: force}
			progress := ui.NewBuildProgress()
			if progress != nil {
				opts.Progress = progress.Update
			}

			a, err := app.New(ctx, cfg, logger, opts)
			if progress != nil {
				progress.Wait()
			}
			if err != nil {
				return err
			}
			defer a.Close()

			report := reportFor(a.Store)
			report.Rebuilt = a.Rebuilt
			if outputJSON {
				return printJSON(report)
			}

			if a.Rebuilt {
				ui.Success("Indices built with %s", report.Model)
			} else {
				ui.Info("Snapshot is current, nothing to build (use --force to rebuild)")
			}
			printStats(ui, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "rebuild even when the snapshot is current")
	return cmd
}

func newIndexStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entity and embedding counts from the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ui := NewUI(outputJSON, noColor)

			store := index.NewStore(logger, app.NewEmbedder(cfg.Embedding), index.Config{
				SnapshotPath: cfg.Index.SnapshotPath,
			})
			if err := store.Load(); err != nil {
				return fmt.Errorf("load snapshot %s: %w", cfg.Index.SnapshotPath, err)
			}

			report := reportFor(store)
			if outputJSON {
				return printJSON(report)
			}
			printStats(ui, report)
			return nil
		},
	}
}

func reportFor(store *index.Store) indexReport {
	return indexReport{
		Model:   store.Model(),
		BuiltAt: store.BuiltAt(),
		Ready:   store.Ready(),
		Indices: store.Stats(),
	}
}

func printStats(ui *UI, r indexReport) {
	ui.Section("Indices")
	ui.KeyValue("Model", r.Model)
	ui.KeyValue("Built", r.BuiltAt.Format(time.RFC3339))
	ui.KeyValue("Ready", r.Ready)
	ui.Section("Counts")

	rows := make([][]string, 0, len(index.Categories))
	for _, cat := range index.Categories {
		st := r.Indices[cat]
		rows = append(rows, []string{string(cat), strconv.Itoa(st.Entities), strconv.Itoa(st.Embedded)})
	}
	ui.Table([]string{"Category", "Entities", "Embedded"}, rows)
}
