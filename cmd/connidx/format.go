package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"connidx/internal/incremental"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatHuman OutputFormat = "human"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML, FormatHuman:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s (use human, json or yaml)", s)
	}
}

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatYAML(resp interface{}) (string, error) {
	data, err := yaml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *RunResponse:
		return formatRunHuman(v), nil
	case *StatusResponse:
		return formatStatusHuman(v), nil
	case *HistoryResponse:
		return formatHistoryHuman(v), nil
	case *RecordResponse:
		return formatRecordHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func formatRunHuman(resp *RunResponse) string {
	var b strings.Builder
	for i, r := range resp.Results {
		if i > 0 {
			b.WriteString("\n")
		}
		writeResultHuman(&b, r)
	}
	for _, e := range resp.Errors {
		fmt.Fprintf(&b, "\nerror: %s\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeResultHuman(b *strings.Builder, r *incremental.Result) {
	status := "ok"
	if !r.Success {
		status = "incomplete"
	}
	fmt.Fprintf(b, "Project %s: %s", r.ProjectID, status)
	if r.RunID != "" {
		fmt.Fprintf(b, " (run %s)", r.RunID)
	}
	b.WriteString("\n")

	s := r.Stats
	if s.FilesProcessed == 0 && s.FilesDeferred == 0 && s.FilesFailed == 0 {
		b.WriteString("  No pending changes\n")
		return
	}
	fmt.Fprintf(b, "  Files:       %d processed, %d deferred, %d failed\n", s.FilesProcessed, s.FilesDeferred, s.FilesFailed)
	fmt.Fprintf(b, "  Connections: %d unchanged, %d moved, %d re-sliced, %d resplit, %d deleted, %d inserted\n",
		s.ConnectionsUnchanged, s.ConnectionsLinesUpdated, s.ConnectionsCodeUpdated,
		s.ConnectionsResplit, s.ConnectionsDeleted, s.ConnectionsInserted)
	fmt.Fprintf(b, "  Batches:     %d sent, %d failed\n", s.BatchesSent, s.BatchesFailed)
	if s.RemapInconsistencies > 0 {
		fmt.Fprintf(b, "  Dropped %d inconsistent connection(s)\n", s.RemapInconsistencies)
	}
	if s.CheckpointsSkipped > 0 {
		fmt.Fprintf(b, "  Skipped %d malformed checkpoint row(s)\n", s.CheckpointsSkipped)
	}
	fmt.Fprintf(b, "  Duration:    %s\n", s.Duration.Round(time.Millisecond))
	for _, f := range r.Failures {
		fmt.Fprintf(b, "  ! %s: %s\n", f.Path, f.Error)
	}
}

func formatStatusHuman(resp *StatusResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %s (%s)\n", resp.ProjectID, resp.Root)
	fmt.Fprintf(&b, "  Indexed files: %d\n", resp.Files)
	fmt.Fprintf(&b, "  Connections:   %d\n", resp.Connections)
	if len(resp.Pending) == 0 {
		b.WriteString("  Up to date")
		return b.String()
	}
	fmt.Fprintf(&b, "  Pending (%d), run needed:\n", len(resp.Pending))
	for _, p := range resp.Pending {
		fmt.Fprintf(&b, "    %-8s %s\n", p.ChangeType, p.Path)
	}
	if resp.Skipped > 0 {
		fmt.Fprintf(&b, "  %d malformed checkpoint row(s) ignored\n", resp.Skipped)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistoryHuman(resp *HistoryResponse) string {
	if len(resp.Runs) == 0 {
		return fmt.Sprintf("No runs recorded for %s", resp.ProjectID)
	}
	var b strings.Builder
	for _, r := range resp.Runs {
		status := "ok"
		if !r.Success {
			status = "incomplete"
		}
		fmt.Fprintf(&b, "%s  %s  %-10s %s\n",
			r.StartedAt.Format(time.RFC3339), r.ID, status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRecordHuman(resp *RecordResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recorded %d change(s) for %s", len(resp.Recorded), resp.ProjectID)
	if len(resp.Unchanged) > 0 {
		fmt.Fprintf(&b, ", %d unchanged", len(resp.Unchanged))
	}
	for _, f := range resp.Failures {
		fmt.Fprintf(&b, "\n  ! %s: %s", f.Path, f.Error)
	}
	return b.String()
}
