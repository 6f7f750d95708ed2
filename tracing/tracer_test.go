package tracing_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/pilab-dev/mcp-oauth/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerProvider_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer

	tp, err := tracing.InitTracerProvider("mcp-oauth-test", &buf)
	require.NoError(t, err)

	_, span := tracing.Tracer.Start(context.Background(), "TestSpan")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "TestSpan")
	assert.Contains(t, buf.String(), "mcp-oauth-test")
}
