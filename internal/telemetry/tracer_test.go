package telemetry

import (
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

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "installer.initialize",
		attribute.String(InstallationIDKey, "inst-1"))
	SetError(span, errors.New("canvas unavailable"), attribute.String(WorkflowIDKey, "A"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	got := ended[0]
	assert.Equal(t, "installer.initialize", got.Name())
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "canvas unavailable", got.Status().Description)
	assert.Contains(t, got.Attributes(), attribute.String(InstallationIDKey, "inst-1"))

	var names []string
	for _, ev := range got.Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "exception")
	assert.Contains(t, names, "error_occurred")
}

func TestNoopTracer(t *testing.T) {
	_, span := StartSpan(context.Background(), NoopTracer(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}
