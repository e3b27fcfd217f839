package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/detector"
	"github.com/sawpanic/perfguard/internal/features"
	"github.com/sawpanic/perfguard/internal/infrastructure/db"
	atomicio "github.com/sawpanic/perfguard/internal/io"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

func (a *app) newPredictCmd() *cobra.Command {
	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Flag players whose perf diff exceeds their segment threshold",
		Long:  "Labels every row of a feature table with is_anomaly and the account status observed while fitting",
		RunE:  a.runPredict,
	}

	predictCmd.Flags().String("test", "", "Features CSV to label (required)")
	predictCmd.Flags().String("model", "", "Saved model path or name (default from config)")
	predictCmd.Flags().String("out", "", "Output CSV (default stdout)")
	predictCmd.Flags().Bool("anomalies-only", false, "Write only flagged rows")
	predictCmd.Flags().AddFlagSet(statusFlags())
	predictCmd.MarkFlagRequired("test")
	return predictCmd
}

func (a *app) runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	testPath, _ := cmd.Flags().GetString("test")
	modelRef, _ := cmd.Flags().GetString("model")
	outPath, _ := cmd.Flags().GetString("out")
	anomaliesOnly, _ := cmd.Flags().GetBool("anomalies-only")
	statusesPath, _ := cmd.Flags().GetString("statuses")

	table, err := features.LoadCSV(testPath)
	if err != nil {
		return err
	}

	oracle, closeOracle, err := a.newOracle(cmd.Flags())
	if err != nil {
		return err
	}
	defer closeOracle()
	if statusesPath != "" {
		if err := seedStatuses(ctx, oracle, statusesPath); err != nil {
			return err
		}
	}

	manager, err := a.openDatabase(ctx, cmd.Flags())
	if err != nil {
		return err
	}
	if manager != nil {
		defer manager.Close()
	}

	model, _, err := a.resolveModel(ctx, modelRef, manager, oracle)
	if err != nil {
		return err
	}

	preds, err := model.Predict(ctx, table.Rows)
	if err != nil {
		return err
	}
	flagged := detector.Anomalies(preds)
	log.Info().Int("rows", len(preds)).Int("anomalies", len(flagged)).Msg("prediction complete")
	if anomaliesOnly {
		preds = flagged
	}

	if outPath == "" {
		return detector.WritePredictionsCSV(os.Stdout, table.Header, preds)
	}

	var buf bytes.Buffer
	if err := detector.WritePredictionsCSV(&buf, table.Header, preds); err != nil {
		return err
	}
	if err := atomicio.WriteFileAtomic(outPath, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write predictions: %w", err)
	}
	log.Info().Str("path", outPath).Msg("predictions written")
	return nil
}

// resolveModel loads ref as a file path when it exists, from Postgres when a
// database is open, and otherwise as a name under the saved models folder
func (a *app) resolveModel(ctx context.Context, ref string, manager *db.Manager, oracle *accounts.Oracle) (*detector.Model, thresholds.Meta, error) {
	if ref == "" {
		ref = a.cfg.Model.Name
	}

	var (
		model *detector.Model
		err   error
	)
	switch info, statErr := os.Stat(ref); {
	case statErr == nil && !info.IsDir():
		model, err = detector.Load(ref, oracle, a.modelOptions()...)
	case manager != nil:
		model, err = detector.LoadFrom(ctx, manager.Repository().Models, ref, oracle, a.modelOptions()...)
	default:
		model, err = detector.LoadNamed(a.cfg.Folders.SavedModels, ref, oracle, a.modelOptions()...)
	}
	if err != nil {
		return nil, thresholds.Meta{}, fmt.Errorf("model %q: %w", ref, err)
	}
	return model, model.Meta(), nil
}
