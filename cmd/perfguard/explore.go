package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/perfguard/internal/diagnostics"
	"github.com/sawpanic/perfguard/internal/features"
)

func (a *app) newExploreCmd() *cobra.Command {
	exploreCmd := &cobra.Command{
		Use:   "explore",
		Short: "Summarize rating gain and perf diff per rating bin",
		Long:  "Writes one HTML distribution summary per time control and feature; nothing is fed back into the model",
		RunE:  a.runExplore,
	}

	exploreCmd.Flags().String("features", "", "Features CSV (required)")
	exploreCmd.Flags().String("out", "", "Output folder (default from config)")
	exploreCmd.Flags().String("name", "", "File name prefix (default model name)")
	exploreCmd.MarkFlagRequired("features")
	return exploreCmd
}

func (a *app) runExplore(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("features")
	outDir, _ := cmd.Flags().GetString("out")
	name, _ := cmd.Flags().GetString("name")
	if outDir == "" {
		outDir = a.cfg.Folders.ExploratoryPlots
	}
	if name == "" {
		name = a.cfg.Model.Name
	}

	table, err := features.LoadCSV(path)
	if err != nil {
		return err
	}

	written, err := diagnostics.Explore(table.Rows, outDir, name)
	if err != nil {
		return err
	}
	for _, p := range written {
		fmt.Println(p)
	}
	return nil
}
