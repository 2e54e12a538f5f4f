// Package publish delivers detection findings to a downstream alerting
// system, adapted from the teacher-adjacent pack's Kafka sink down to the
// single concern this core needs: one message per finding.
package publish

import (
	"context"

	"github.com/replit/sandbox-correlate/internal/detect"
)

// FindingsPublisher delivers findings somewhere outside the process. Publish
// is responsible for its own internal batching and retry policy.
type FindingsPublisher interface {
	Publish(ctx context.Context, findings []*detect.Finding) error
	Close() error
}

// NullPublisher discards every finding. It is the default when no
// publisher is configured.
type NullPublisher struct{}

func (NullPublisher) Publish(ctx context.Context, findings []*detect.Finding) error { return nil }
func (NullPublisher) Close() error                                                  { return nil }
