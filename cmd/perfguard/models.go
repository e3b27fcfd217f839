package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sawpanic/perfguard/internal/thresholds"
)

func (a *app) newModelsCmd() *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List saved models",
		Long:  "Lists models in the saved models folder, and in Postgres with --db",
		RunE:  a.runModels,
	}

	modelsCmd.Flags().String("delete", "", "Delete the named model from Postgres (requires --db)")
	modelsCmd.Flags().AddFlagSet(statusFlags())
	return modelsCmd
}

func (a *app) runModels(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deleteName, _ := cmd.Flags().GetString("delete")

	manager, err := a.openDatabase(ctx, cmd.Flags())
	if err != nil {
		return err
	}
	if manager != nil {
		defer manager.Close()
	}

	if deleteName != "" {
		if manager == nil {
			return fmt.Errorf("--delete requires --db")
		}
		if err := manager.Repository().Models.Delete(ctx, deleteName); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", deleteName)
		return nil
	}

	dir := a.cfg.Folders.SavedModels
	paths, err := filepath.Glob(filepath.Join(dir, "*"+thresholds.FileExt))
	if err != nil {
		return err
	}
	fmt.Printf("Files in %s:\n", dir)
	if len(paths) == 0 {
		fmt.Println("  (none)")
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(path), thresholds.FileExt)
		fmt.Printf("  %-40s %s\n", name, info.ModTime().Format("2006-01-02 15:04"))
	}

	if manager == nil {
		return nil
	}

	summaries, err := manager.Repository().Models.List(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Postgres:")
	if len(summaries) == 0 {
		fmt.Println("  (none)")
	}
	for _, m := range summaries {
		fmt.Printf("  %-40s run=%s segments=%d default=%.2f %s\n",
			m.Name, m.RunID, m.Segments, m.DefaultThreshold, m.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
