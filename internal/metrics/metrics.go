// Package metrics exposes Prometheus instruments for incremental runs.
// A nil *Metrics records nothing.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "connidx"

// Metrics holds the instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	filesTotal      *prometheus.CounterVec
	outcomesTotal   *prometheus.CounterVec
	batchesTotal    *prometheus.CounterVec
	batchLines      prometheus.Histogram
	inconsistencies prometheus.Counter
	skippedRows     prometheus.Counter
	pendingFiles    *prometheus.GaugeVec
}

// New creates and registers every instrument.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Incremental runs by project and result",
		}, []string{"project", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of incremental runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"project"}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files handled by incremental runs, by result",
		}, []string{"result"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_outcomes_total",
			Help:      "Remap outcomes of existing connections",
		}, []string{"outcome"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_batches_total",
			Help:      "Batches sent to the discovery pipeline, by result",
		}, []string{"result"}),
		batchLines: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_batch_lines",
			Help:      "Lines carried by each pipeline batch",
			Buckets:   []float64{10, 25, 50, 100, 150, 200, 400},
		}),
		inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remap_inconsistencies_total",
			Help:      "Connections dropped because their span did not fit the file",
		}),
		skippedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_skipped_total",
			Help:      "Malformed checkpoint rows skipped on load",
		}),
		pendingFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_files",
			Help:      "Files with pending checkpoints after the last run",
		}, []string{"project"}),
	}
	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.filesTotal,
		m.outcomesTotal,
		m.batchesTotal,
		m.batchLines,
		m.inconsistencies,
		m.skippedRows,
		m.pendingFiles,
	)
	return m
}

// Registry returns the registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunFinished records one completed run.
func (m *Metrics) RunFinished(project string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.runsTotal.WithLabelValues(project, result).Inc()
	m.runDuration.WithLabelValues(project).Observe(d.Seconds())
}

// Files adds n files with the given result (processed, failed, deferred).
func (m *Metrics) Files(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.filesTotal.WithLabelValues(result).Add(float64(n))
}

// Outcomes adds n connections with the given remap outcome.
func (m *Metrics) Outcomes(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.outcomesTotal.WithLabelValues(outcome).Add(float64(n))
}

// Batch records one pipeline call.
func (m *Metrics) Batch(success bool, lines int) {
	if m == nil {
		return
	}
	result := "sent"
	if !success {
		result = "failed"
	}
	m.batchesTotal.WithLabelValues(result).Inc()
	m.batchLines.Observe(float64(lines))
}

// Inconsistencies adds dropped inconsistent connections.
func (m *Metrics) Inconsistencies(n int) {
	if m == nil || n == 0 {
		return
	}
	m.inconsistencies.Add(float64(n))
}

// SkippedRows adds malformed checkpoint rows.
func (m *Metrics) SkippedRows(n int) {
	if m == nil || n == 0 {
		return
	}
	m.skippedRows.Add(float64(n))
}

// Pending sets the number of files still pending for project.
func (m *Metrics) Pending(project string, n int) {
	if m == nil {
		return
	}
	m.pendingFiles.WithLabelValues(project).Set(float64(n))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
