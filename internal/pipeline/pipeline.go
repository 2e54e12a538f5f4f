// Package pipeline wires the core's stages together end to end: log
// reader → parser → graph ingestion → detection engine → summary
// projector, instrumented with metrics and tracing (spec §2).
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/replit/sandbox-correlate/internal/detect"
	"github.com/replit/sandbox-correlate/internal/events"
	"github.com/replit/sandbox-correlate/internal/graph"
	"github.com/replit/sandbox-correlate/internal/logreader"
	"github.com/replit/sandbox-correlate/internal/metrics"
	"github.com/replit/sandbox-correlate/internal/parser"
	"github.com/replit/sandbox-correlate/internal/publish"
	"github.com/replit/sandbox-correlate/internal/report"
	"github.com/replit/sandbox-correlate/internal/summary"
	"github.com/replit/sandbox-correlate/internal/tracing"
	"github.com/replit/sandbox-correlate/internal/tree"
)

// Result is everything one analysis run produces.
type Result struct {
	Graph    *summary.Graph
	Findings []*detect.Finding
	Report   []report.ProcessPatch
}

// Run executes the full pipeline against logPaths and a process tree
// loaded from treePath. Per spec §7's MissingPrecondition, a process tree
// that fails to load aborts the run with an error instead of producing
// partial output.
func Run(ctx context.Context, logPaths []string, treePath string, m *metrics.Metrics, tracer trace.Tracer, pub publish.FindingsPublisher, logger *logrus.Logger) (*Result, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if pub == nil {
		pub = publish.NullPublisher{}
	}
	if tracer == nil {
		tracer = tracing.NewNoop().Tracer()
	}

	t, err := tree.LoadJSON(treePath)
	if err != nil {
		logger.WithError(err).Error("pipeline: missing precondition, no process tree available")
		return nil, err
	}

	start := time.Now()

	ctx, rootEnd := tracing.WithRootSpan(ctx, tracer)
	defer rootEnd()

	_, readEnd := tracing.Stage(ctx, tracer, "read")
	recs := logreader.ReadAll(logPaths, logger, m.RecordDrop)
	readEnd()

	_, parseEnd := tracing.Stage(ctx, tracer, "parse")
	p := parser.New(logger)
	evts := make([]*events.Event, 0, len(recs))
	for _, rec := range recs {
		e := p.Parse(rec)
		if e == nil {
			m.RecordDrop("unparsed_record")
			continue
		}
		if m != nil {
			m.EventsParsedTotal.WithLabelValues(string(e.Type())).Inc()
		}
		evts = append(evts, e)
	}
	parseEnd()

	_, ingestEnd := tracing.Stage(ctx, tracer, "ingest")
	g := graph.BuildFromTree(t, logger)
	g.Ingest(evts, t, m.RecordDrop)
	ingestEnd()

	_, detectEnd := tracing.Stage(ctx, tracer, "detect")
	engine := detect.NewEngine(logger)
	findings := engine.Run(g)
	if m != nil {
		for _, f := range findings {
			m.FindingsTotal.WithLabelValues(f.DetectionName).Inc()
		}
	}
	detectEnd()

	_, projectEnd := tracing.Stage(ctx, tracer, "project")
	sg := summary.Project(g, findings, logger)
	projectEnd()

	if m != nil {
		m.IngestDuration.Observe(time.Since(start).Seconds())
	}

	if err := pub.Publish(ctx, findings); err != nil {
		logger.WithError(err).Error("pipeline: publishing findings failed")
	}

	return &Result{
		Graph:    sg,
		Findings: findings,
		Report:   report.Build(t),
	}, nil
}
