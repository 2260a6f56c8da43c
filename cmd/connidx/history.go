package main

import (
	"time"

	"github.com/spf13/cobra"

	"connidx/internal/storage"
)

var (
	historyProject string
	historyLimit   int
	historyFormat  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent incremental runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyProject, "project", "", "Project id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs")
	historyCmd.Flags().StringVar(&historyFormat, "format", "human", "Output format (human, json, yaml)")
	rootCmd.AddCommand(historyCmd)
}

// HistoryResponse is the output of history.
type HistoryResponse struct {
	ProjectID string     `json:"projectId" yaml:"projectId"`
	Runs      []RunEntry `json:"runs" yaml:"runs"`
}

// RunEntry is one row of the runs table.
type RunEntry struct {
	ID         string    `json:"id" yaml:"id"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time `json:"finishedAt" yaml:"finishedAt"`
	Success    bool      `json:"success" yaml:"success"`
	Stats      string    `json:"stats" yaml:"stats"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, err := ParseFormat(historyFormat)
	if err != nil {
		return err
	}

	a, err := openApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(historyProject)
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	runs, err := storage.NewRunRepository(a.db).List(ctx, p.ID, historyLimit)
	if err != nil {
		return err
	}

	resp := &HistoryResponse{ProjectID: p.ID, Runs: []RunEntry{}}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, RunEntry{
			ID:         r.ID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Success:    r.Success,
			Stats:      r.StatsJSON,
		})
	}
	return printResponse(cmd.OutOrStdout(), resp, format)
}
