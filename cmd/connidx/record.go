package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"connidx/internal/diff"
	"connidx/internal/incremental"
)

var (
	recordProject  string
	recordAdded    []string
	recordModified []string
	recordDeleted  []string
	recordPatch    string
	recordFormat   string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record file changes as pending checkpoints",
	Long: `Record added, modified and deleted files of a project. Current content is
read from the project root. Paths can be given as flags or taken from a
unified diff with --patch (use - for stdin).

Recording is cheap: nothing is analyzed until 'connidx run'.`,
	Example: `  connidx record --project api --modified src/server.go
  git diff HEAD~1 | connidx record --project api --patch -`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordProject, "project", "", "Project id")
	recordCmd.Flags().StringSliceVar(&recordAdded, "added", nil, "Added files (relative paths)")
	recordCmd.Flags().StringSliceVar(&recordModified, "modified", nil, "Modified files (relative paths)")
	recordCmd.Flags().StringSliceVar(&recordDeleted, "deleted", nil, "Deleted files (relative paths)")
	recordCmd.Flags().StringVar(&recordPatch, "patch", "", "Read changed paths from a unified diff file")
	recordCmd.Flags().StringVar(&recordFormat, "format", "human", "Output format (human, json, yaml)")
	rootCmd.AddCommand(recordCmd)
}

// RecordResponse is the output of record and scan.
type RecordResponse struct {
	ProjectID string                    `json:"projectId" yaml:"projectId"`
	Recorded  []string                  `json:"recorded" yaml:"recorded"`
	Unchanged []string                  `json:"unchanged,omitempty" yaml:"unchanged,omitempty"`
	Failures  []incremental.FileFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

func newRecordResponse(projectID string, r *incremental.RecordResult) *RecordResponse {
	return &RecordResponse{
		ProjectID: projectID,
		Recorded:  r.Recorded,
		Unchanged: r.Unchanged,
		Failures:  r.Failures,
	}
}

func runRecord(cmd *cobra.Command, args []string) error {
	format, err := ParseFormat(recordFormat)
	if err != nil {
		return err
	}

	changes := &diff.ChangeSet{Added: recordAdded, Modified: recordModified, Deleted: recordDeleted}
	if recordPatch != "" {
		patched, err := readPatch(recordPatch)
		if err != nil {
			return err
		}
		changes.Added = append(changes.Added, patched.Added...)
		changes.Modified = append(changes.Modified, patched.Modified...)
		changes.Deleted = append(changes.Deleted, patched.Deleted...)
	}
	if changes.Empty() {
		return fmt.Errorf("no changes given (use --added, --modified, --deleted or --patch)")
	}

	a, err := openApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(recordProject)
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	result, err := a.engine.RecordChanges(ctx, p.ID, changes)
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), newRecordResponse(p.ID, result), format)
}

func readPatch(path string) (*diff.ChangeSet, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read patch: %w", err)
	}
	return diff.ParsePatch(data)
}

func printResponse(w io.Writer, resp interface{}, format OutputFormat) error {
	out, err := FormatResponse(resp, format)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
