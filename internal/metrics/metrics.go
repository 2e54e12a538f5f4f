// Package metrics exposes the core's prometheus instrumentation: pipeline
// counters/histograms plus periodic self-process resource gauges, adapted
// from the teacher's cgroup-based resource monitor to gopsutil so it runs
// on any platform the analysis process happens to run on.
package metrics

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// Metrics holds every prometheus collector the core registers, on a
// private registry so embedding applications can compose it freely.
type Metrics struct {
	Registry *prometheus.Registry

	EventsParsedTotal  *prometheus.CounterVec
	EventsDroppedTotal *prometheus.CounterVec
	FindingsTotal      *prometheus.CounterVec
	IngestDuration     prometheus.Histogram

	SelfCPUPercent prometheus.Gauge
	SelfRSSBytes   prometheus.Gauge

	logger *logrus.Logger
}

// New constructs and registers the core's metrics. A nil logger falls
// back to logrus.StandardLogger().
func New(logger *logrus.Logger) *Metrics {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		EventsParsedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_parsed_total",
			Help: "Events successfully parsed, by variant.",
		}, []string{"variant"}),
		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Records or events dropped during parsing or ingestion, by reason.",
		}, []string{"reason"}),
		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "findings_total",
			Help: "Findings emitted by the detection engine, by detection name.",
		}, []string{"detection"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Wall-clock time to ingest one analysis's full event stream into the graph.",
			Buckets: prometheus.DefBuckets,
		}),
		SelfCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "self_cpu_percent",
			Help: "CPU percent used by the analysis process itself, sampled periodically.",
		}),
		SelfRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "self_rss_bytes",
			Help: "Resident set size of the analysis process itself, sampled periodically.",
		}),
		logger: logger,
	}

	reg.MustRegister(
		m.EventsParsedTotal,
		m.EventsDroppedTotal,
		m.FindingsTotal,
		m.IngestDuration,
		m.SelfCPUPercent,
		m.SelfRSSBytes,
	)
	return m
}

// RecordDrop increments EventsDroppedTotal for reason. It is nil-safe so
// callers that hold an optional *Metrics can pass this method straight
// through as a plain func(string) without a nil check at every call site.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RunSelfMonitor samples this process's own CPU and RSS every interval
// until ctx is cancelled, updating the self-resource gauges. It replaces
// the teacher's cgroup-file-based resource monitor, which only worked
// under cgroup v2 on Linux, with the portable gopsutil/process API.
func (m *Metrics) RunSelfMonitor(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.logger.WithError(err).Error("metrics: could not open self process handle, self-monitoring disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if cpuPct, err := proc.CPUPercentWithContext(ctx); err != nil {
			m.logger.WithError(err).Debug("metrics: self CPU sample failed")
		} else {
			m.SelfCPUPercent.Set(cpuPct)
		}

		if memInfo, err := proc.MemoryInfoWithContext(ctx); err != nil {
			m.logger.WithError(err).Debug("metrics: self memory sample failed")
		} else if memInfo != nil {
			m.SelfRSSBytes.Set(float64(memInfo.RSS))
		}
	}
}
