package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"allocplan/internal/config"
	"allocplan/internal/logging"
)

func TestInitTracingDisabled(t *testing.T) {
	rec := logging.NewRecorder()
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{}, rec)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, "tracing disabled; using noop tracer provider", rec.Entries()[0].Msg)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), config.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	require.Error(t, err)
}

func TestStartSpanCarriesTenantAndRequestID(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := logging.ContextWithRequestID(context.Background(), "req-1")
	_, span := StartSpan(ctx, "plan.generate", "t1", attribute.Int("total_samples", 10))
	EndSpan(span, errors.New("boom"))

	ended := sr.Ended()
	require.Len(t, ended, 1)
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	require.Equal(t, "t1", got["tenant_id"].AsString())
	require.Equal(t, "req-1", got["request_id"].AsString())
	require.Equal(t, int64(10), got["total_samples"].AsInt64())
	require.Len(t, ended[0].Events(), 1) // recorded error
}
