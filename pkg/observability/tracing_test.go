package observability

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracing_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.SamplingRate = 1
	cfg.Writer = &buf

	shutdown, err := InitTracing(cfg)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "table.get_range")
	span.SetAttribute("table", "objects.tbl")
	span.SetAttribute("start", 10)
	span.SetAttribute("rows", []int{1, 2})
	_, child := StartSpan(ctx, "table.decode")
	child.End(nil)
	span.End(fmt.Errorf("row 12 not yet available"))

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "table.get_range")
	assert.Contains(t, out, "table.decode")
	assert.Contains(t, out, "objects.tbl")
	assert.Contains(t, out, "row 12 not yet available")

	// spans after shutdown go to the no-op global tracer
	_, span = StartSpan(context.Background(), "after")
	span.End(nil)
	assert.NotContains(t, buf.String(), `"after"`)
	assert.NoError(t, Shutdown(context.Background()))
}

func TestTracing_NeverSample(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.SamplingRate = 0
	cfg.Writer = &buf

	shutdown, err := InitTracing(cfg)
	require.NoError(t, err)
	_, span := StartSpan(context.Background(), "dropped")
	span.End(nil)
	require.NoError(t, shutdown(context.Background()))
	assert.NotContains(t, buf.String(), "dropped")
}
