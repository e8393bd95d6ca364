package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"podcast-assembler/internal/app"
	"podcast-assembler/internal/config"
	"podcast-assembler/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "podctl",
	Short: "Operator tooling for the episode assembly pipeline",
	Long:  `podctl runs one-off maintenance against the same database and storage the server uses: retention sweeps, episode retries and playback resolution.`,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(createCmd)
}

// openApp wires the pipeline without a queue connection.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Dispatch.DryRun = true
	logger, err := logging.New(logging.Options{Level: logLevel, Format: "text", Output: os.Stderr})
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
