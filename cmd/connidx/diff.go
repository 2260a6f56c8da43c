package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"connidx/internal/checkpoint"
	"connidx/internal/diff"
)

var (
	diffProject string
	diffFile    string
	diffContext int
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show the pending change of a file as a unified diff",
	Long: `Render the net pending change of one file, from the content last
reconciled into the index to its current recorded content.`,
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().StringVar(&diffProject, "project", "", "Project id")
	diffCmd.Flags().StringVar(&diffFile, "file", "", "File path relative to the project root")
	diffCmd.Flags().IntVarP(&diffContext, "context", "U", 3, "Lines of context")
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	if diffFile == "" {
		return fmt.Errorf("--file is required")
	}

	a, err := openApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(diffProject)
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	entry, err := a.store.Get(ctx, checkpoint.Key{ProjectID: p.ID, FilePath: diffFile})
	if err != nil {
		return err
	}
	if entry == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "No pending change for %s\n", diffFile)
		return nil
	}

	var oldLines, newLines []string
	oldName, newName := diffFile, diffFile
	if entry.OldCode != nil {
		oldLines = diff.SplitLines(*entry.OldCode)
	} else {
		oldName = diff.DevNull
	}
	if entry.NewCode != nil {
		newLines = diff.SplitLines(*entry.NewCode)
	} else {
		newName = diff.DevNull
	}

	aligner := diff.Aligner{MaxCells: a.cfg.Incremental.MaxAlignCells}
	out, err := diff.RenderUnified(oldName, newName, oldLines, newLines, aligner.Align(oldLines, newLines), diffContext)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
