package main

import (
	"github.com/spf13/cobra"

	"connidx/internal/storage"
)

var (
	statusProject string
	statusFormat  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes of a project",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProject, "project", "", "Project id")
	statusCmd.Flags().StringVar(&statusFormat, "format", "human", "Output format (human, json, yaml)")
	rootCmd.AddCommand(statusCmd)
}

// StatusResponse is the output of status.
type StatusResponse struct {
	ProjectID   string          `json:"projectId" yaml:"projectId"`
	Root        string          `json:"root" yaml:"root"`
	Files       int             `json:"files" yaml:"files"`
	Connections int             `json:"connections" yaml:"connections"`
	Incoming    int             `json:"incoming" yaml:"incoming"`
	Outgoing    int             `json:"outgoing" yaml:"outgoing"`
	NeedsRun    bool            `json:"needsRun" yaml:"needsRun"`
	Pending     []PendingChange `json:"pending" yaml:"pending"`
	Skipped     int             `json:"skippedRows,omitempty" yaml:"skippedRows,omitempty"`
}

// PendingChange is one checkpoint entry.
type PendingChange struct {
	Path       string `json:"path" yaml:"path"`
	ChangeType string `json:"changeType" yaml:"changeType"`
	Events     int    `json:"events" yaml:"events"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := ParseFormat(statusFormat)
	if err != nil {
		return err
	}

	a, err := openApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(statusProject)
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	snap, err := a.store.Load(ctx, p.ID)
	if err != nil {
		return err
	}
	files, err := storage.NewFileRepository(a.db).Count(ctx, p.ID)
	if err != nil {
		return err
	}
	conns, err := storage.NewConnectionRepository(a.db).CountByProject(ctx, p.ID)
	if err != nil {
		return err
	}

	resp := &StatusResponse{
		ProjectID:   p.ID,
		Root:        p.Root,
		Files:       files,
		Connections: conns[storage.Incoming] + conns[storage.Outgoing],
		Incoming:    conns[storage.Incoming],
		Outgoing:    conns[storage.Outgoing],
		NeedsRun:    len(snap.Entries) > 0,
		Pending:     []PendingChange{},
		Skipped:     len(snap.Skipped),
	}
	for _, key := range snap.Keys() {
		e := snap.Entries[key]
		resp.Pending = append(resp.Pending, PendingChange{
			Path:       key.FilePath,
			ChangeType: string(e.ChangeType),
			Events:     len(e.RowIDs),
		})
	}
	return printResponse(cmd.OutOrStdout(), resp, format)
}
