package main

import (
	"github.com/spf13/cobra"

	"connidx/internal/content"
	"connidx/internal/storage"
)

var (
	scanProject string
	scanFormat  string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Detect changed files by content hash and record them",
	Long: `Walk the project root, compare every selected file's hash with the indexed
one and record the differences as pending checkpoints.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanProject, "project", "", "Project id")
	scanCmd.Flags().StringVar(&scanFormat, "format", "human", "Output format (human, json, yaml)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	format, err := ParseFormat(scanFormat)
	if err != nil {
		return err
	}

	a, err := openApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(scanProject)
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	filter := p.Filter()
	filter.Exclude = append(filter.Exclude, a.cfg.Watch.Ignore...)
	scanner := content.NewScanner(p.Root, filter, storage.NewFileRepository(a.db), a.logger)
	changes, err := scanner.Detect(ctx, p.ID)
	if err != nil {
		return err
	}

	resp := &RecordResponse{ProjectID: p.ID, Recorded: []string{}}
	if !changes.Empty() {
		result, err := a.engine.RecordChanges(ctx, p.ID, changes)
		if err != nil {
			return err
		}
		resp = newRecordResponse(p.ID, result)
	}
	return printResponse(cmd.OutOrStdout(), resp, format)
}
