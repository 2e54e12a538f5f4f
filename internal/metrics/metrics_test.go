package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	m := New(nil)
	m.EventsParsedTotal.WithLabelValues("AllocateEvent").Inc()
	m.EventsDroppedTotal.WithLabelValues("MalformedRecord").Inc()
	m.FindingsTotal.WithLabelValues("Process Injection").Inc()

	require.Equal(t, float64(1), testutil.ToFloat64(m.EventsParsedTotal.WithLabelValues("AllocateEvent")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues("MalformedRecord")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.FindingsTotal.WithLabelValues("Process Injection")))
}

func TestRecordDropIncrementsByReason(t *testing.T) {
	m := New(nil)
	m.RecordDrop("malformed_record")
	m.RecordDrop("malformed_record")
	m.RecordDrop("unresolved_target")

	require.Equal(t, float64(2), testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues("malformed_record")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues("unresolved_target")))
}

func TestRecordDropOnNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() { m.RecordDrop("anything") })
}

func TestRunSelfMonitorReturnsWhenCancelled(t *testing.T) {
	m := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.RunSelfMonitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSelfMonitor did not return after context cancellation")
	}

	require.GreaterOrEqual(t, testutil.ToFloat64(m.SelfRSSBytes), float64(0))
}
