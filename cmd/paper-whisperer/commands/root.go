// Package commands implements the paper-whisperer command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/paper-whisperer/internal/config"
	"github.com/spherical/paper-whisperer/internal/observability"
)

// Set at build time with -ldflags "-X .../commands.version=...".
var version = "0.1.0"

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "paper-whisperer",
	Short: "Turn academic papers into articles, social notes and note cards",
	Long: `Paper Whisperer analyzes a research paper PDF with a large language model and
writes a long-form article, a short social note and a note card image from it.

Run it as an HTTP service with "serve" or on a single file with "analyze".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Observability.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
}
