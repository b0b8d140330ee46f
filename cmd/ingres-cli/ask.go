package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ingres-ai/ingres-assistant/internal/app"
	"github.com/ingres-ai/ingres-assistant/internal/assistant"
	"github.com/ingres-ai/ingres-assistant/pkg/ingres"
)

// asker answers messages either in process or through a server.
type asker func(ctx context.Context, session, message string) (*ingres.Reply, error)

func newAskCmd() *cobra.Command {
	var (
		session string
		remote  string
	)

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Ask the assistant a question",
		Long: `Ask answers one message given as arguments, or reads one message per line
from stdin when no arguments are given. The session id is kept between lines
so chart offers can be accepted with "yes".

With --remote the message is sent to a running ingres-api instead of loading
the indices locally.`,
		Example: `  ingres-cli ask "status of punjab"
  ingres-cli ask --remote http://localhost:8000 "compare bihar and punjab"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := NewUI(outputJSON, noColor)

			ask, closeFn, err := newAsker(ctx, ui, remote)
			if err != nil {
				return err
			}
			defer closeFn()

			if len(args) > 0 {
				_, err := askOnce(ctx, ui, ask, session, strings.Join(args, " "))
				return err
			}
			return askLoop(ctx, ui, ask, session, os.Stdin)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "continue an existing session")
	cmd.Flags().StringVar(&remote, "remote", "", "ingres-api base URL")
	return cmd
}

func newAsker(ctx context.Context, ui *UI, remote string) (asker, func(), error) {
	if remote != "" {
		client := ingres.NewClient(ingres.ClientConfig{BaseURL: remote, Timeout: cfg.Server.RequestTimeout})
		return client.Ask, func() {}, nil
	}

	stop := ui.Spinner("Loading indices")
	a, err := app.New(ctx, cfg, logger, app.Options{})
	stop()
	if err != nil {
		return nil, nil, err
	}

	ask := func(ctx context.Context, session, message string) (*ingres.Reply, error) {
		reply := a.Assistant.Ask(ctx, assistant.AskRequest{SessionID: session, Message: message})
		return toClientReply(reply), nil
	}
	return ask, func() { _ = a.Close() }, nil
}

func askLoop(ctx context.Context, ui *UI, ask asker, session string, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	prompt := color.New(color.FgGreen, color.Bold)
	for {
		if !outputJSON {
			prompt.Print("> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}
		if msg == "exit" || msg == "quit" {
			return nil
		}

		reply, err := askOnce(ctx, ui, ask, session, msg)
		if err != nil {
			return err
		}
		session = reply.SessionID
	}
}

func askOnce(ctx context.Context, ui *UI, ask asker, session, message string) (*ingres.Reply, error) {
	stop := ui.Spinner("Thinking")
	reply, err := ask(ctx, session, message)
	stop()
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}

	if outputJSON {
		return reply, printJSON(reply)
	}
	printReply(ui, reply)
	return reply, nil
}

func printReply(ui *UI, r *ingres.Reply) {
	fmt.Fprintln(ui.out)
	fmt.Fprintln(ui.out, r.Text)

	if len(r.ChartData) > 0 {
		fmt.Fprintln(ui.out)
		rows := make([][]string, 0, len(r.ChartData))
		for _, p := range r.ChartData {
			rows = append(rows, []string{p.Name, fmt.Sprintf("%.2f%%", p.Extraction)})
		}
		ui.Table([]string{"Location", "Extraction"}, rows)
	}
	if r.ImageURL != "" {
		ui.KeyValue("Image", r.ImageURL)
	}
	if r.VisualType != "" {
		ui.KeyValue("Visual", r.VisualType)
	}
	if len(r.Suggestions) > 0 {
		fmt.Fprintln(ui.out)
		for _, s := range r.Suggestions {
			color.New(color.FgBlue).Fprintf(ui.out, "→ %s\n", s)
		}
	}
	color.New(color.Faint).Fprintf(ui.out, "\nsession %s\n\n", r.SessionID)
}

func toClientReply(r assistant.Reply) *ingres.Reply {
	out := &ingres.Reply{
		Text:        r.Text,
		ChartData:   make([]ingres.Point, 0, len(r.ChartData)),
		Suggestions: r.Suggestions,
		VisualData:  r.VisualData,
		SessionID:   r.SessionID,
	}
	for _, p := range r.ChartData {
		out.ChartData = append(out.ChartData, ingres.Point{Name: p.Name, Extraction: p.Extraction})
	}
	if r.ImageURL != nil {
		out.ImageURL = *r.ImageURL
	}
	if r.VisualType != nil {
		out.VisualType = *r.VisualType
	}
	return out
}
