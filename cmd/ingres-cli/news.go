package main

import (
	"github.com/spf13/cobra"

	"github.com/ingres-ai/ingres-assistant/internal/news"
	"github.com/ingres-ai/ingres-assistant/pkg/ingres"
)

func newNewsCmd() *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "news",
		Short: "Print the latest groundwater headlines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := NewUI(outputJSON, noColor)

			var headlines []string
			if remote != "" {
				var err error
				headlines, err = ingres.NewClient(ingres.ClientConfig{BaseURL: remote}).News(ctx)
				if err != nil {
					return err
				}
			} else {
				headlines = news.NewFetcher(logger, nil, news.Config{
					FeedURL: cfg.News.FeedURL,
					Timeout: cfg.News.Timeout,
				}).Digest(ctx)
			}

			if outputJSON {
				return printJSON(map[string][]string{"news": headlines})
			}
			ui.Section("Groundwater news")
			for _, h := range headlines {
				ui.Info("%s", h)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "ingres-api base URL")
	return cmd
}
