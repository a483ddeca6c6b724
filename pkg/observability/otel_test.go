package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelConfig_Sampler(t *testing.T) {
	for _, ratio := range []float64{0, 1, -2, 3} {
		if got := (OTelConfig{SampleRatio: ratio}).sampler().Description(); got != "AlwaysOnSampler" {
			t.Errorf("ratio %v: got sampler %s", ratio, got)
		}
	}
	if got := (OTelConfig{SampleRatio: 0.25}).sampler().Description(); got == "AlwaysOnSampler" {
		t.Errorf("ratio 0.25 should not always sample")
	}
}

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{}, NewNopLogger())
	if err != nil || providers != nil {
		t.Fatalf("InitOTel(disabled) = %v, %v", providers, err)
	}
	if err := ShutdownOTel(context.Background(), nil, NewNopLogger()); err != nil {
		t.Errorf("ShutdownOTel(nil) = %v", err)
	}
}

func TestWithTraceContext(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")

	var buf bytes.Buffer
	WithTraceContext(ctx, NewLogger(InfoLevel, &buf)).Info("traced")
	entry := decodeEntry(t, &buf)
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", entry["trace_id"])
	}

	EndSpan(span, errors.New("denied"))
	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Status().Description != "denied" {
		t.Fatalf("unexpected ended spans %+v", ended)
	}

	logger := NewNopLogger()
	if WithTraceContext(context.Background(), logger) != logger {
		t.Error("expected logger unchanged without a span")
	}
}
