package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	previous := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{ServiceName: "jobqueue"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	if provider.Tracer("test") == nil {
		t.Fatal("expected tracer")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracerConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config TracerConfig
		errMsg string
	}{
		{"missing service name", TracerConfig{Enabled: true, Endpoint: "localhost:4317"}, "service name is required"},
		{"missing endpoint", TracerConfig{Enabled: true, ServiceName: "jobqueue"}, "OTLP endpoint is required"},
		{"negative sample rate", TracerConfig{Enabled: true, ServiceName: "jobqueue", Endpoint: "x:4317", SampleRate: -0.1}, "sample rate"},
		{"sample rate above one", TracerConfig{Enabled: true, ServiceName: "jobqueue", Endpoint: "x:4317", SampleRate: 1.5}, "sample rate"},
		{"disabled skips checks", TracerConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Fatalf("expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestNewTracerProvider_WithRecorder(t *testing.T) {
	previous := otel.GetTracerProvider()
	defer otel.SetTracerProvider(previous)

	recorder := tracetest.NewSpanRecorder()
	provider, err := newTracerProvider(context.Background(), TracerConfig{
		ServiceName: "jobqueue",
		SampleRate:  1,
	}, sdktrace.WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer provider.Shutdown(context.Background())

	_, span := StartJobSpan(context.Background(), SpanOperationProcess, WithQueue("emails"))
	span.End()

	if len(recorder.Ended()) != 1 {
		t.Fatalf("expected one span, got %d", len(recorder.Ended()))
	}
}

func TestStartJobSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	tests := []struct {
		name      string
		operation SpanOperation
		opts      []JobSpanOption
		wantName  string
		wantKind  trace.SpanKind
		wantAttrs map[attribute.Key]string
	}{
		{
			name:      "enqueue with queue",
			operation: SpanOperationEnqueue,
			opts:      []JobSpanOption{WithQueue("emails"), WithJobID("id-1"), WithJobType("send_email")},
			wantName:  "jobs.enqueue emails",
			wantKind:  trace.SpanKindProducer,
			wantAttrs: map[attribute.Key]string{
				"messaging.destination": "emails",
				"messaging.message_id":  "id-1",
				"jobs.type":             "send_email",
			},
		},
		{
			name:      "process",
			operation: SpanOperationProcess,
			opts:      []JobSpanOption{WithQueue("default")},
			wantName:  "jobs.process default",
			wantKind:  trace.SpanKindConsumer,
		},
		{
			name:      "store call",
			operation: SpanOperationStore,
			opts:      []JobSpanOption{WithStoreCall("PopReady", "durable")},
			wantName:  "jobs.store",
			wantKind:  trace.SpanKindClient,
			wantAttrs: map[attribute.Key]string{
				"jobs.store.method": "PopReady",
				"jobs.store.tier":   "durable",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.Reset()
			_, span := StartJobSpan(context.Background(), tt.operation, tt.opts...)
			span.End()

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			got := spans[0]
			if got.Name() != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, got.Name())
			}
			if got.SpanKind() != tt.wantKind {
				t.Errorf("expected kind %v, got %v", tt.wantKind, got.SpanKind())
			}
			values := attrs(got)
			if values["messaging.operation"].AsString() != string(tt.operation) {
				t.Errorf("missing messaging.operation attribute")
			}
			for key, want := range tt.wantAttrs {
				if values[key].AsString() != want {
					t.Errorf("attribute %s: expected %q, got %q", key, want, values[key].AsString())
				}
			}
		})
	}
}

func TestRecordErrorAndSuccess(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartJobSpan(context.Background(), SpanOperationProcess)
	RecordError(span, errors.New("boom"))
	span.End()

	_, okSpan := StartJobSpan(context.Background(), SpanOperationProcess)
	RecordError(okSpan, nil)
	RecordSuccess(okSpan)
	okSpan.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error || spans[0].Status().Description != "boom" {
		t.Errorf("expected error status, got %+v", spans[0].Status())
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected recorded error event")
	}
	if spans[1].Status().Code != codes.Ok {
		t.Errorf("expected ok status, got %+v", spans[1].Status())
	}
}
