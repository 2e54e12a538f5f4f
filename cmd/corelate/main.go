// Command corelate runs the behavioral-event correlation core over a
// completed sandbox analysis directory: three trace logs plus a
// process-tree artifact in, a cytoscape-compatible process graph out.
// The report patch the pipeline builds is not written by this command.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/replit/sandbox-correlate/internal/config"
	"github.com/replit/sandbox-correlate/internal/metrics"
	"github.com/replit/sandbox-correlate/internal/pipeline"
	"github.com/replit/sandbox-correlate/internal/publish"
	"github.com/replit/sandbox-correlate/internal/tracing"
)

var (
	flagConfig = flag.String("config", "", "path to a YAML config file")
	flagDir    = flag.String("dir", "", "analysis directory containing the trace logs and process tree")
	flagWatch  = flag.Bool("watch", false, "watch -dir for inputs instead of running once")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -dir <analysis-dir> [-config <file>] [-watch]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		logger.WithError(err).Fatal("corelate: loading config")
	}
	if *flagDir != "" {
		cfg.Input.AnalysisDir = *flagDir
	}
	if cfg.Input.AnalysisDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	m := metrics.New(logger)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.ListenAddr, m, logger)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		interval := cfg.Metrics.SampleInterval
		if interval <= 0 {
			interval = time.Second
		}
		go m.RunSelfMonitor(ctx, interval)
	}

	tp := buildTracingProvider(cfg.Tracing.Enabled)
	defer tp.Shutdown(context.Background())

	pub := buildPublisher(cfg, logger)
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flagWatch || cfg.Watch.Enabled {
		if err := watchAndRun(ctx, cfg, m, tp, pub, logger); err != nil {
			logger.WithError(err).Fatal("corelate: watch mode failed")
		}
		return
	}

	if err := runOnce(ctx, cfg, m, tp, pub, logger); err != nil {
		logger.WithError(err).Fatal("corelate: run failed")
	}
}

func inputPaths(cfg *config.Config) (logPaths []string, treePath string) {
	dir := cfg.Input.AnalysisDir
	logPaths = []string{
		filepath.Join(dir, "syscall.log"),
		filepath.Join(dir, "apimon.log"),
		filepath.Join(dir, "filetracer.log"),
	}
	treePath = cfg.Input.ProcessTreeFile
	if !filepath.IsAbs(treePath) {
		treePath = filepath.Join(dir, treePath)
	}
	return logPaths, treePath
}

func runOnce(ctx context.Context, cfg *config.Config, m *metrics.Metrics, tp *tracing.Provider, pub publish.FindingsPublisher, logger *logrus.Logger) error {
	logPaths, treePath := inputPaths(cfg)

	result, err := pipeline.Run(ctx, logPaths, treePath, m, tp.Tracer(), pub, logger)
	if err != nil {
		return err
	}

	outPath := cfg.Input.OutputFile
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(cfg.Input.AnalysisDir, outPath)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("corelate: creating %s: %w", outPath, err)
	}
	defer f.Close()

	if err := result.Graph.WriteJSON(f, cfg.Input.Gzip); err != nil {
		return fmt.Errorf("corelate: writing %s: %w", outPath, err)
	}

	logger.WithFields(logrus.Fields{
		"findings": len(result.Findings),
		"nodes":    len(result.Graph.Nodes),
		"output":   outPath,
	}).Info("corelate: analysis complete")
	return nil
}

func watchAndRun(ctx context.Context, cfg *config.Config, m *metrics.Metrics, tp *tracing.Provider, pub publish.FindingsPublisher, logger *logrus.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("corelate: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(cfg.Input.AnalysisDir); err != nil {
		return fmt.Errorf("corelate: watching %s: %w", cfg.Input.AnalysisDir, err)
	}

	logPaths, treePath := inputPaths(cfg)
	required := append(append([]string{}, logPaths...), treePath)

	logger.WithField("dir", cfg.Input.AnalysisDir).Info("corelate: watching for analysis inputs")
	ran := false
	for {
		if allExist(required) {
			if !ran {
				if err := runOnce(ctx, cfg, m, tp, pub, logger); err != nil {
					logger.WithError(err).Error("corelate: watch-triggered run failed")
				}
				ran = true
			}
		} else {
			ran = false
		}

		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("corelate: watcher error")
		}
	}
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func buildTracingProvider(enabled bool) *tracing.Provider {
	if !enabled {
		return tracing.NewNoop()
	}
	tp, err := tracing.NewStdout(os.Stderr)
	if err != nil {
		logrus.WithError(err).Warn("corelate: stdout trace exporter unavailable, tracing disabled")
		return tracing.NewNoop()
	}
	return tp
}

func buildPublisher(cfg *config.Config, logger *logrus.Logger) publish.FindingsPublisher {
	if cfg.Publisher.Kafka == nil {
		return publish.NullPublisher{}
	}
	kc := cfg.Publisher.Kafka
	p, err := publish.NewKafkaPublisher(publish.KafkaConfig{
		Brokers:       kc.Brokers,
		Topic:         kc.Topic,
		SASLUser:      kc.SASLUser,
		SASLPass:      kc.SASLPass,
		SASLMechanism: kc.SASLMechanism,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("corelate: kafka publisher unavailable, findings will not be published")
		return publish.NullPublisher{}
	}
	return p
}

func serveMetrics(addr string, m *metrics.Metrics, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	logger.WithField("addr", addr).Info("corelate: serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("corelate: metrics server stopped")
	}
}
