package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/perfguard/internal/detector"
	"github.com/sawpanic/perfguard/internal/diagnostics"
	"github.com/sawpanic/perfguard/internal/features"
	plog "github.com/sawpanic/perfguard/internal/log"
	"github.com/sawpanic/perfguard/internal/report"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

func (a *app) newFitCmd() *cobra.Command {
	fitCmd := &cobra.Command{
		Use:   "fit",
		Short: "Calibrate per-segment thresholds from a training table",
		Long:  "Sweeps candidate thresholds for every (time control, rating bin) segment in the training table and saves the fitted model",
		RunE:  a.runFit,
	}

	fitCmd.Flags().String("train", "", "Training features CSV (required)")
	fitCmd.Flags().String("model-name", "", "Name of the saved model (default from config)")
	fitCmd.Flags().Bool("no-plots", false, "Skip per-segment diagnostic plots")
	fitCmd.Flags().Int("workers", -1, "Segments calibrated concurrently (0 = all CPUs, default from config)")
	fitCmd.Flags().String("metrics-file", "", "Write a node exporter textfile after the fit")
	fitCmd.Flags().String("report", "", "Write a markdown fit report")
	fitCmd.Flags().AddFlagSet(statusFlags())
	fitCmd.MarkFlagRequired("train")
	return fitCmd
}

func (a *app) runFit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	trainPath, _ := cmd.Flags().GetString("train")
	modelName, _ := cmd.Flags().GetString("model-name")
	noPlots, _ := cmd.Flags().GetBool("no-plots")
	workers, _ := cmd.Flags().GetInt("workers")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")
	reportPath, _ := cmd.Flags().GetString("report")

	if modelName == "" {
		modelName = a.cfg.Model.Name
	}
	if workers < 0 {
		workers = a.cfg.Model.Workers
	}
	if metricsFile == "" {
		metricsFile = a.cfg.Metrics.Textfile
	}

	table, err := features.LoadCSV(trainPath)
	if err != nil {
		return err
	}
	log.Info().Str("file", trainPath).Int("rows", len(table.Rows)).Msg("training table loaded")

	calCfg, err := a.cfg.CalibrationSettings()
	if err != nil {
		return err
	}

	oracle, closeOracle, err := a.newOracle(cmd.Flags())
	if err != nil {
		return err
	}
	defer closeOracle()

	opts := append(a.modelOptions(),
		detector.WithCalibration(calCfg),
		detector.WithWorkers(workers),
		detector.WithProgress(func(total int) detector.Progress {
			return plog.NewTerminalProgress("calibrating segments", total)
		}),
	)
	if !noPlots {
		dir := a.cfg.Folders.ModelPlots
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create plot folder: %w", err)
		}
		opts = append(opts, detector.WithSink(diagnostics.MultiSink{
			diagnostics.HTMLSink{Dir: dir, Base: modelName},
			diagnostics.JSONSink{Dir: dir, Base: modelName},
		}))
	}

	model := detector.New(oracle, opts...)
	summary, err := model.Fit(ctx, table.Rows, detector.FitOptions{Diagnostics: !noPlots})
	if err != nil {
		return fmt.Errorf("fit failed: %w", err)
	}

	path, err := model.Save(a.cfg.Folders.SavedModels, modelName)
	if err != nil {
		return err
	}

	manager, err := a.openDatabase(ctx, cmd.Flags())
	if err != nil {
		return err
	}
	if manager != nil {
		defer manager.Close()
		// the database copy follows the file, which may have been renamed
		stored, err := model.SaveTo(ctx, manager.Repository().Models, strings.TrimSuffix(filepath.Base(path), thresholds.FileExt))
		if err != nil {
			return err
		}
		log.Info().Str("model", stored).Msg("model stored in postgres")
	}

	if reportPath != "" {
		if err := report.NewFitReport(modelName, path).Write(reportPath, summary, model.Store()); err != nil {
			return err
		}
		log.Info().Str("path", reportPath).Msg("fit report written")
	}

	if metricsFile != "" {
		if err := a.metrics.WriteTextfile(metricsFile); err != nil {
			return err
		}
	}

	calibrated := 0
	for _, seg := range summary.Segments {
		if seg.Improved {
			calibrated++
		}
	}
	fmt.Printf("Model %s saved to %s\n", modelName, path)
	fmt.Printf("Run %s: %d rows (%d dropped), %d segments fitted, %d above default, %s\n",
		summary.RunID, summary.Rows, summary.Dropped, len(summary.Segments), calibrated, summary.Elapsed.Round(time.Millisecond))
	return nil
}
