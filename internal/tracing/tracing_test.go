package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStdoutProviderEmitsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewStdout(&buf)
	require.NoError(t, err)

	ctx, end := WithRootSpan(context.Background(), p.Tracer())
	_, stageEnd := Stage(ctx, p.Tracer(), "parse")
	stageEnd()
	end()

	require.NoError(t, p.Shutdown(context.Background()))

	var count int
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var v map[string]interface{}
		if err := dec.Decode(&v); err != nil {
			break
		}
		count++
	}
	require.GreaterOrEqual(t, count, 1)
}

func TestNoopProviderNeverErrors(t *testing.T) {
	p := NewNoop()
	ctx, end := WithRootSpan(context.Background(), p.Tracer())
	_, stageEnd := Stage(ctx, p.Tracer(), "detect")
	stageEnd()
	end()
	require.NoError(t, p.Shutdown(context.Background()))
}
