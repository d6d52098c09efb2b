package trace

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_Disabled(t *testing.T) {
	require.NoError(t, Init(false))
	ctx, span := StartSpan(context.Background(), "ledger.ApplyTrade")
	assert.False(t, span.IsRecording())
	assert.NotNil(t, ctx)
	End(span, errors.New("ignored"))
	assert.False(t, Enabled())
}

func TestStartSpan_ExportsOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithWriter(true, &buf))

	_, span := StartSpan(context.Background(), "ledger.ApplyBatch", attribute.Int("rows", 3))
	assert.True(t, span.IsRecording())
	End(span, errors.New("not enough AAPL"))

	require.NoError(t, Shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "ledger.ApplyBatch")
	assert.Contains(t, out, "not enough AAPL")
	assert.False(t, Enabled())
}

func TestStartSpan_DisabledLeavesCallerSpanAlone(t *testing.T) {
	require.NoError(t, Init(false))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, parent := tp.Tracer("caller").Start(context.Background(), "request")
	_, span := StartSpan(ctx, "ledger.ApplyTrade")
	assert.False(t, span.IsRecording())
	End(span, errors.New("not enough AAPL"))

	assert.True(t, parent.IsRecording(), "caller span must stay open")
	assert.Empty(t, recorder.Ended())

	parent.End()
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Empty(t, ended[0].Events())
}
