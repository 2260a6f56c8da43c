package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"connidx/internal/incremental"
)

var (
	runProject     string
	runAll         bool
	runFormat      string
	runMetricsFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply pending changes to the connection index",
	Long: `Apply every pending checkpoint of a project: diff each file against its
last indexed content, move or re-slice the stored connections, send the
changed ranges to the discovery pipeline and commit each file on its own.

Files whose analysis failed stay pending and are retried by the next run.
With --all every registered project is processed concurrently.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", "", "Project id")
	runCmd.Flags().BoolVar(&runAll, "all", false, "Run every registered project")
	runCmd.Flags().StringVar(&runFormat, "format", "human", "Output format (human, json, yaml)")
	runCmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
	rootCmd.AddCommand(runCmd)
}

// RunResponse is the output of run.
type RunResponse struct {
	Results []*incremental.Result `json:"results" yaml:"results"`
	Errors  []string              `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := ParseFormat(runFormat)
	if err != nil {
		return err
	}
	if runAll == (runProject != "") {
		return fmt.Errorf("specify exactly one of --project or --all")
	}

	a, err := openApp("")
	if err != nil {
		return err
	}
	defer a.Close()

	var ids []string
	if runAll {
		ids = a.registry.IDs()
	} else {
		p, err := a.project(runProject)
		if err != nil {
			return err
		}
		ids = []string{p.ID}
	}

	ctx, cancel := newContext()
	defer cancel()

	results, errs := a.engine.RunAll(ctx, ids)
	resp := &RunResponse{}
	for _, r := range results {
		if r != nil {
			resp.Results = append(resp.Results, r)
		}
	}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, err.Error())
	}

	if path := metricsPath(a); path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("Failed to write metrics textfile", "path", path, "error", err.Error())
		}
	}

	if err := printResponse(cmd.OutOrStdout(), resp, format); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("%d project(s) failed", len(resp.Errors))
	}
	return nil
}

// metricsPath prefers --metrics-file over metrics.textfile.
func metricsPath(a *app) string {
	if runMetricsFile != "" {
		return runMetricsFile
	}
	return a.cfg.Metrics.Textfile
}
