package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/shivangsoni/ClaimsAI/analysis"

type OTelConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// OTelRecorder turns each analysis run into one span. Spans are keyed by
// trace ID between RecordStart and RecordFinish/RecordError.
type OTelRecorder struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewOTelRecorder exports spans over OTLP/HTTP.
func NewOTelRecorder(ctx context.Context, cfg OTelConfig) (*OTelRecorder, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("otlp endpoint is required")
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	name := cfg.ServiceName
	if name == "" {
		name = "claimsai"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	r := NewOTelRecorderWithProvider(tp)
	r.shutdown = tp.Shutdown
	return r, nil
}

func NewOTelRecorderWithProvider(tp trace.TracerProvider) *OTelRecorder {
	return &OTelRecorder{
		tracer:   tp.Tracer(tracerName),
		shutdown: func(context.Context) error { return nil },
		spans:    map[string]trace.Span{},
	}
}

func (r *OTelRecorder) RecordStart(ctx context.Context, traceID string, meta map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(meta)+1)
	attrs = append(attrs, attribute.String("claimsai.trace_id", traceID))
	for k, v := range meta {
		attrs = append(attrs, attribute.String("claimsai."+k, v))
	}
	_, span := r.tracer.Start(ctx, "claims.analyze", trace.WithAttributes(attrs...))

	r.mu.Lock()
	if prev, ok := r.spans[traceID]; ok {
		prev.End()
	}
	r.spans[traceID] = span
	r.mu.Unlock()
}

func (r *OTelRecorder) RecordFinish(_ context.Context, traceID string, outcome string, duration time.Duration) {
	span := r.take(traceID)
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("claimsai.outcome", outcome),
		attribute.Int64("claimsai.duration_ms", duration.Milliseconds()),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

func (r *OTelRecorder) RecordError(_ context.Context, traceID string, err error, duration time.Duration) {
	span := r.take(traceID)
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int64("claimsai.duration_ms", duration.Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Error, "analysis failed")
	}
	span.End()
}

// Shutdown flushes pending spans.
func (r *OTelRecorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for id, span := range r.spans {
		span.End()
		delete(r.spans, id)
	}
	r.mu.Unlock()
	return r.shutdown(ctx)
}

func (r *OTelRecorder) take(traceID string) trace.Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	span, ok := r.spans[traceID]
	if !ok {
		return nil
	}
	delete(r.spans, traceID)
	return span
}
