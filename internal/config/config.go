// Package config loads cmd/corelate's YAML configuration, following the
// load-file-then-apply-defaults shape the pack's config loaders use.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration for one corelate invocation.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Publisher PublisherConfig `yaml:"publisher"`
	Watch     WatchConfig     `yaml:"watch"`
}

// InputConfig names the analysis directory and the process-tree artifact
// the core reads before running the pipeline.
type InputConfig struct {
	AnalysisDir     string `yaml:"analysis_dir"`
	ProcessTreeFile string `yaml:"process_tree_file"`
	OutputFile      string `yaml:"output_file"`
	Gzip            bool   `yaml:"gzip"`
}

// MetricsConfig controls prometheus instrumentation.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ListenAddr     string        `yaml:"listen_addr"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// TracingConfig controls otel span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PublisherConfig optionally configures a Kafka findings publisher.
type PublisherConfig struct {
	Kafka *KafkaPublisherConfig `yaml:"kafka"`
}

// KafkaPublisherConfig mirrors publish.KafkaConfig in the on-disk shape.
type KafkaPublisherConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	SASLUser      string   `yaml:"sasl_user"`
	SASLPass      string   `yaml:"sasl_pass"`
	SASLMechanism string   `yaml:"sasl_mechanism"`
}

// WatchConfig controls the fsnotify-driven watch mode.
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// defaults returns a Config with every ambient field set to its runnable
// default, applied before a user-provided file is merged in.
func defaults() Config {
	return Config{
		Input: InputConfig{
			ProcessTreeFile: "process_tree.json",
			OutputFile:      "process_graph.json",
		},
		Metrics: MetricsConfig{
			ListenAddr:     ":9090",
			SampleInterval: time.Second,
		},
	}
}

// Load reads path (if non-empty) as YAML over top of the default
// configuration. A missing path is not an error: it yields the defaults,
// matching the "None at the core level" CLI posture the core itself
// allows while still letting an embedding CLI opt into configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}
