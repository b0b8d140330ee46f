package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/ingres-ai/ingres-assistant/internal/index"
)

// UI provides user-friendly output utilities.
type UI struct {
	out      io.Writer
	jsonMode bool
}

// NewUI creates a new UI instance.
func NewUI(jsonMode, disableColor bool) *UI {
	if disableColor || !IsTerminal() {
		color.NoColor = true
	}
	return &UI{out: os.Stdout, jsonMode: jsonMode}
}

func (ui *UI) line(c *color.Color, mark, format string, args ...any) {
	if ui.jsonMode {
		return
	}
	c.Fprintf(ui.out, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...any) {
	ui.line(color.New(color.FgGreen), "✓", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...any) {
	ui.line(color.New(color.FgYellow), "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...any) {
	ui.line(color.New(color.FgCyan), "ℹ", format, args...)
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	color.New(color.FgMagenta, color.Bold).Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
	fmt.Fprintln(ui.out)
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value any) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Table prints rows under headers with aligned columns.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	head := color.New(color.FgCyan, color.Bold)
	for i, h := range headers {
		head.Fprintf(ui.out, " %-*s ", widths[i], h)
	}
	fmt.Fprintln(ui.out)
	for i := range headers {
		head.Fprint(ui.out, " "+strings.Repeat("─", widths[i])+" ")
	}
	fmt.Fprintln(ui.out)
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(ui.out, " %-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(ui.out)
	}
}

// Spinner starts an indeterminate spinner on stderr. The returned func stops it.
func (ui *UI) Spinner(message string) func() {
	if ui.jsonMode || !IsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s.Stop
}

// RowCounter shows a counter for a stream of unknown length.
func (ui *UI) RowCounter(description string) *progressbar.ProgressBar {
	w := io.Discard
	if !ui.jsonMode {
		w = os.Stderr
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
}

// BuildProgress renders one bar per index category while the store embeds.
type BuildProgress struct {
	progress *mpb.Progress

	mu   sync.Mutex
	bars map[index.Category]*mpb.Bar
}

// NewBuildProgress returns nil in JSON mode or when stderr is not a terminal.
func (ui *UI) NewBuildProgress() *BuildProgress {
	if ui.jsonMode || !IsTerminal() {
		return nil
	}
	return &BuildProgress{
		progress: mpb.New(mpb.WithWidth(48), mpb.WithOutput(os.Stderr)),
		bars:     make(map[index.Category]*mpb.Bar),
	}
}

// Update matches index.ProgressFunc.
func (p *BuildProgress) Update(cat index.Category, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[cat]
	if !ok {
		name := string(cat)
		bar = p.progress.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}), " done"),
			),
		)
		p.bars[cat] = bar
	}
	bar.SetCurrent(int64(done))
}

// Wait finishes any bar left open and waits for rendering to complete.
func (p *BuildProgress) Wait() {
	p.mu.Lock()
	for _, bar := range p.bars {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	p.mu.Unlock()
	p.progress.Wait()
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
