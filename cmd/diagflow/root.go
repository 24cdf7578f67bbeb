package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/animus-labs/diagflow/internal/platform/logging"
)

const serviceName = "diagflow"

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "diagflow",
	Short: "Diagnostic workflow step engine",
	Long: "diagflow serves the diagnostic fixture node and traverses workflows\n" +
		"by following the next activities each step declares.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.Version = version
}

// newLogger builds the process logger from DIAGFLOW_LOG_* writing to w.
func newLogger(w io.Writer) (*slog.Logger, error) {
	cfg, err := logging.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return logging.New(cfg, w).With(slog.String("service", serviceName)), nil
}
