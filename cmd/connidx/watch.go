package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"connidx/internal/diff"
	"connidx/internal/slogutil"
	"connidx/internal/watcher"
)

var (
	watchProject string
	watchRun     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Record file changes as they happen",
	Long: `Watch a project tree and record every debounced batch of file changes.
With --run an incremental run follows each recorded batch.

Stops on SIGINT or SIGTERM after recording any pending changes.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchProject, "project", "", "Project id")
	watchCmd.Flags().BoolVar(&watchRun, "run", false, "Run incremental maintenance after each batch")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(slogutil.SubsystemWatch)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(watchProject)
	if err != nil {
		return err
	}

	ctx, cancel := newContext()
	defer cancel()

	handler := func(hctx context.Context, projectID string, changes *diff.ChangeSet) {
		result, err := a.engine.RecordChanges(hctx, projectID, changes)
		if err != nil {
			a.logger.Error("Failed to record changes", "project", projectID, "error", err.Error())
			return
		}
		a.logger.Info("Recorded changes",
			"project", projectID,
			"recorded", len(result.Recorded),
			"unchanged", len(result.Unchanged),
		)
		if !watchRun || len(result.Recorded) == 0 {
			return
		}
		res, err := a.engine.RunIncremental(hctx, projectID)
		if err != nil {
			a.logger.Error("Incremental run failed", "project", projectID, "error", err.Error())
			return
		}
		if !res.Success {
			a.logger.Warn("Incremental run incomplete, changes stay pending",
				"project", projectID,
				"deferred", res.Stats.FilesDeferred,
				"failed", res.Stats.FilesFailed,
			)
		}
	}

	filter := p.Filter()
	filter.Exclude = append(filter.Exclude, a.cfg.Watch.Ignore...)
	w, err := watcher.New(watcher.Config{
		ProjectID: p.ID,
		Root:      p.Root,
		Filter:    filter,
		Debounce:  time.Duration(a.cfg.Watch.DebounceMs) * time.Millisecond,
	}, a.logger, handler)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}

	<-ctx.Done()
	return w.Stop()
}
