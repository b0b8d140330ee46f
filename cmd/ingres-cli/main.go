// Package main provides the INGRES assistant CLI entrypoint.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ingres-ai/ingres-assistant/internal/config"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// version is set at build time.
var version = "dev"

var (
	cfgFile    string
	outputJSON bool
	noColor    bool
	verbose    bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ingres-cli",
	Short: "INGRES groundwater assistant CLI",
	Long: `ingres-cli manages the data behind the INGRES groundwater assistant.

Use this tool to:
- Import the assessment and state trend CSV files
- Build or inspect the embedding indices
- Ask the assistant questions locally or against a running server
- Print the latest groundwater headlines

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Observability.LogLevel
		if !verbose {
			level = "warn"
		}
		format := "console"
		if outputJSON {
			format = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      format,
			Output:      os.Stderr,
			ServiceName: "ingres-cli",
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newNewsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return printJSON(map[string]string{"version": version})
			}
			fmt.Println("ingres-cli", version)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
