package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/replit/sandbox-correlate/internal/detect"
	"github.com/replit/sandbox-correlate/internal/events"
)

func TestNullPublisherDiscardsFindings(t *testing.T) {
	defer goleak.VerifyNone(t)

	var p NullPublisher
	alloc := events.NewAllocate(100, 1, "NtAllocateVirtualMemory", 200, 0x1000, 0x10)
	f := detect.NewFinding(detect.ProcessInjectionName, detect.DisplayEdge, "Alloc->Exec", []*events.Event{alloc})

	require.NoError(t, p.Publish(context.Background(), []*detect.Finding{f}))
	require.NoError(t, p.Close())
}

// TestNewKafkaPublisherRequiresBrokersAndTopic also checks that the
// config-validation path leaks no goroutines. Both cases fail validation
// before sarama's producer is created, so producer setup is not exercised.
func TestNewKafkaPublisherRequiresBrokersAndTopic(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, err := NewKafkaPublisher(KafkaConfig{}, nil)
	require.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.Error(t, err)
}
