// Package metrics holds the Prometheus instruments of one orchestrate
// session.
//
// Every Session owns its own registry; nothing is registered with the
// global default registry. A CLI invocation can dump the registry in the
// Prometheus text exposition format with WriteFile.
package metrics

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "orchestrate"

// Metrics is the instrument set of one session.
type Metrics struct {
	reg *prometheus.Registry

	// TransitionsTotal counts committed transitions.
	// Labels: schedule (1-5), outcome (completed, error)
	TransitionsTotal *prometheus.CounterVec

	// ViolationsTotal counts critical violations that suspended the navigator.
	// Labels: code (E001-E009)
	ViolationsTotal *prometheus.CounterVec

	// DirectivesTotal counts continuation directives applied.
	// Labels: directive (retry, skip, abort, investigate)
	DirectivesTotal *prometheus.CounterVec

	// CheckpointsTotal counts archives written.
	// Labels: kind (base, schedule, final)
	CheckpointsTotal *prometheus.CounterVec

	// SystemErrorsTotal counts environment failures returned to callers.
	// Labels: code (E010-E015)
	SystemErrorsTotal *prometheus.CounterVec

	// AppendSeconds measures durable StateNode appends.
	AppendSeconds prometheus.Histogram

	// RestoresTotal counts restores by route and verification result.
	// Labels: strategy, verified (true, false)
	RestoresTotal *prometheus.CounterVec

	// RestorePatches observes the number of diffs applied per restore.
	RestorePatches prometheus.Histogram

	// RestoreSeconds measures restore wall time.
	RestoreSeconds prometheus.Histogram

	// HeadNode is the id of the newest StateNode.
	HeadNode prometheus.Gauge
}

// New returns a Metrics backed by a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed transitions by schedule and outcome.",
		}, []string{"schedule", "outcome"}),
		ViolationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Critical violations that suspended the navigator, by code.",
		}, []string{"code"}),
		DirectivesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Continuation directives applied to a suspended session.",
		}, []string{"directive"}),
		CheckpointsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoint archives written, by kind.",
		}, []string{"kind"}),
		SystemErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "system_errors_total",
			Help:      "Environment failures returned to the caller, by code.",
		}, []string{"code"}),
		AppendSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_duration_seconds",
			Help:      "Time to durably append one state node.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		RestoresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Completed restores by strategy and verification result.",
		}, []string{"strategy", "verified"}),
		RestorePatches: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "restore_patches",
			Help:      "Diffs applied per restore.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		RestoreSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "restore_duration_seconds",
			Help:      "Restore wall time.",
			Buckets:   prometheus.DefBuckets,
		}),
		HeadNode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "head_node",
			Help:      "Id of the newest state node.",
		}),
	}
}

// Registry exposes the underlying registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveTransition records one committed transition and the new head.
func (m *Metrics) ObserveTransition(schedule int, outcome string, node int) {
	m.TransitionsTotal.WithLabelValues(fmt.Sprint(schedule), outcome).Inc()
	m.HeadNode.Set(float64(node))
}

// ObserveRestore records one completed restore.
func (m *Metrics) ObserveRestore(strategy string, patches int, verified bool, took time.Duration) {
	m.RestoresTotal.WithLabelValues(strategy, fmt.Sprint(verified)).Inc()
	m.RestorePatches.Observe(float64(patches))
	m.RestoreSeconds.Observe(took.Seconds())
}

// Write encodes every gathered family in the text exposition format.
func (m *Metrics) Write(w io.Writer) error {
	families, err := m.reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile writes the exposition to path, replacing it atomically.
func (m *Metrics) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*")
	if err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
