// Package incremental keeps a project's connection index anchored to the
// right lines as files change, without re-running full discovery.
//
// RecordChanges folds observed edits into checkpoints. RunIncremental
// diffs each pending file against its baseline, remaps the existing
// connections, sends the residual ranges to the discovery pipeline in
// bounded batches and commits every file in its own transaction.
package incremental

import (
	"time"

	"connidx/internal/batch"
	"connidx/internal/config"
	"connidx/internal/diff"
	"connidx/internal/remap"
)

// Options configures an Engine.
type Options struct {
	Remap              remap.Options
	MaxLinesPerBatch   int
	MaxAlignCells      int
	ProjectConcurrency int
}

// DefaultOptions returns the defaults used when no config is loaded.
func DefaultOptions() Options {
	return Options{
		Remap:              remap.DefaultOptions(),
		MaxLinesPerBatch:   batch.DefaultMaxLines,
		MaxAlignCells:      diff.DefaultMaxCells,
		ProjectConcurrency: 4,
	}
}

// OptionsFromConfig maps the incremental config section to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	inc := cfg.Incremental
	opts.Remap.AdjacencyThreshold = inc.AdjacencyThreshold
	opts.Remap.BoundarySlack = inc.BoundarySlack
	if inc.MaxLinesPerBatch > 0 {
		opts.MaxLinesPerBatch = inc.MaxLinesPerBatch
	}
	if inc.MaxAlignCells > 0 {
		opts.MaxAlignCells = inc.MaxAlignCells
	}
	if inc.ProjectConcurrency > 0 {
		opts.ProjectConcurrency = inc.ProjectConcurrency
	}
	return opts
}

// Stats tracks what one incremental run did.
type Stats struct {
	FilesProcessed int `json:"filesProcessed" yaml:"filesProcessed"`
	FilesFailed    int `json:"filesFailed" yaml:"filesFailed"`
	FilesDeferred  int `json:"filesDeferred" yaml:"filesDeferred"`

	ConnectionsUnchanged    int `json:"connectionsUnchanged" yaml:"connectionsUnchanged"`
	ConnectionsLinesUpdated int `json:"connectionsLinesUpdated" yaml:"connectionsLinesUpdated"`
	ConnectionsCodeUpdated  int `json:"connectionsCodeUpdated" yaml:"connectionsCodeUpdated"`
	ConnectionsResplit      int `json:"connectionsResplit" yaml:"connectionsResplit"`
	ConnectionsDeleted      int `json:"connectionsDeleted" yaml:"connectionsDeleted"`
	ConnectionsInserted     int `json:"connectionsInserted" yaml:"connectionsInserted"`
	RemapInconsistencies    int `json:"remapInconsistencies" yaml:"remapInconsistencies"`

	BatchesSent   int `json:"batchesSent" yaml:"batchesSent"`
	BatchesFailed int `json:"batchesFailed" yaml:"batchesFailed"`

	CheckpointsSkipped int `json:"checkpointsSkipped" yaml:"checkpointsSkipped"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// FileFailure describes a file that could not be processed.
type FileFailure struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// Result is the outcome of RunIncremental for one project.
type Result struct {
	RunID     string        `json:"runId,omitempty" yaml:"runId,omitempty"`
	ProjectID string        `json:"projectId" yaml:"projectId"`
	Success   bool          `json:"success" yaml:"success"`
	Stats     Stats         `json:"stats" yaml:"stats"`
	Failures  []FileFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// RecordResult reports what RecordChanges stored.
type RecordResult struct {
	Recorded  []string      `json:"recorded" yaml:"recorded"`
	Unchanged []string      `json:"unchanged,omitempty" yaml:"unchanged,omitempty"`
	Failures  []FileFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}
