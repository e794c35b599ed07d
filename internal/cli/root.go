// Package cli provides the command-line interface for leapmap.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapmap",
		Short: "leapmap - mapping sheet to SQL view generator",
		Long: `leapmap compiles free-form column mapping sheets into executable SQL
views, job definitions, and an audit trail that ties every generated
expression back to the rule text it came from.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			var err error
			cfg, err = config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./leapmap.yaml)")
	rootCmd.PersistentFlags().String("out-dir", "", "Directory for generated artifacts")
	rootCmd.PersistentFlags().String("malcode", "", "Application malcode stamped into view names")
	rootCmd.PersistentFlags().String("state", "", "Path to run history database")
	rootCmd.PersistentFlags().String("code-suffix", "", "Column name suffix marking coded columns")
	rootCmd.PersistentFlags().String("lookup-catalog", "", "Path to the standard-code lookup catalog")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging; generate also emits the per-source interpretation summary")

	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
