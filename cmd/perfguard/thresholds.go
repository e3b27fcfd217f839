package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/features"
)

func (a *app) newThresholdsCmd() *cobra.Command {
	thresholdsCmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Print the thresholds of a saved model",
		RunE:  a.runThresholds,
	}

	thresholdsCmd.Flags().String("model", "", "Saved model path or name (default from config)")
	thresholdsCmd.Flags().String("time-control", "", "Only print one time control")
	thresholdsCmd.Flags().Bool("calibrated", false, "Only print segments that went through calibration")
	return thresholdsCmd
}

func (a *app) runThresholds(cmd *cobra.Command, args []string) error {
	modelRef, _ := cmd.Flags().GetString("model")
	tcFilter, _ := cmd.Flags().GetString("time-control")
	calibratedOnly, _ := cmd.Flags().GetBool("calibrated")

	if tcFilter != "" && !features.TimeControl(tcFilter).Recognized() {
		return fmt.Errorf("unknown time control %q", tcFilter)
	}

	model, _, err := a.resolveModel(cmd.Context(), modelRef, nil, accounts.NewOracle(accounts.StaticLookup{}))
	if err != nil {
		return err
	}
	store := model.Store()

	segments := store.Segments()
	if calibratedOnly {
		segments = store.Calibrated()
	}

	fmt.Printf("%-8s %-10s %10s %10s\n", "TC", "BIN", "THRESHOLD", "METRIC")
	for _, seg := range segments {
		if tcFilter != "" && string(seg.TimeControl) != tcFilter {
			continue
		}
		entry, err := store.Entry(seg)
		if err != nil {
			return err
		}
		metric := "-"
		if entry.Metric != nil {
			metric = fmt.Sprintf("%.4f", *entry.Metric)
		}
		fmt.Printf("%-8s %-10s %10.2f %10s\n", seg.TimeControl, seg.Label(), entry.Threshold, metric)
	}
	return nil
}
