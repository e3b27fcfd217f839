package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/perfguard/internal/config"
	"github.com/sawpanic/perfguard/internal/metrics"
)

const (
	appName = "perfguard"
	version = "v0.4.0"
)

// app carries state shared by every subcommand
type app struct {
	configPath string
	logLevel   string
	jsonLogs   bool

	cfg     *config.Config
	metrics *metrics.Registry
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Per-segment perf-diff thresholds for flagging suspicious players",
		Version: version,
		Long: `perfguard calibrates one mean-perf-diff threshold per (time control, rating bin)
segment from labeled account outcomes, and flags players whose performance
exceeds the threshold of their segment.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default perfguard.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonLogs, "json-logs", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(
		a.newFitCmd(),
		a.newPredictCmd(),
		a.newExploreCmd(),
		a.newThresholdsCmd(),
		a.newModelsCmd(),
		a.newServeCmd(),
	)
	return rootCmd
}

// setup configures logging and loads the config before any subcommand runs
func (a *app) setup(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(a.logLevel))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if a.jsonLogs {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.metrics = metrics.NewRegistry()

	log.Debug().Str("command", cmd.Name()).Str("model", cfg.Model.Name).Msg("configuration loaded")
	return nil
}
