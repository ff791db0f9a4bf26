package telemetry

import (
	"context"
	"log"
	"time"
)

// Recorder receives start/finish/error events bracketing one analysis run.
// Implementations are best-effort: they never return errors to the caller.
type Recorder interface {
	RecordStart(ctx context.Context, traceID string, meta map[string]string)
	RecordFinish(ctx context.Context, traceID string, outcome string, duration time.Duration)
	RecordError(ctx context.Context, traceID string, err error, duration time.Duration)
}

type nopRecorder struct{}

// Nop returns a Recorder that discards every event.
func Nop() Recorder { return nopRecorder{} }

func (nopRecorder) RecordStart(context.Context, string, map[string]string) {}
func (nopRecorder) RecordFinish(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordError(context.Context, string, error, time.Duration) {}

// Safe wraps r so a panicking recorder cannot take down an analysis.
// A nil recorder becomes Nop.
func Safe(r Recorder) Recorder {
	if r == nil {
		return Nop()
	}
	if _, ok := r.(safeRecorder); ok {
		return r
	}
	return safeRecorder{inner: r}
}

type safeRecorder struct {
	inner Recorder
}

func (s safeRecorder) RecordStart(ctx context.Context, traceID string, meta map[string]string) {
	defer recoverEvent("start", traceID)
	s.inner.RecordStart(ctx, traceID, meta)
}

func (s safeRecorder) RecordFinish(ctx context.Context, traceID string, outcome string, duration time.Duration) {
	defer recoverEvent("finish", traceID)
	s.inner.RecordFinish(ctx, traceID, outcome, duration)
}

func (s safeRecorder) RecordError(ctx context.Context, traceID string, err error, duration time.Duration) {
	defer recoverEvent("error", traceID)
	s.inner.RecordError(ctx, traceID, err, duration)
}

func recoverEvent(event, traceID string) {
	if r := recover(); r != nil {
		log.Printf("telemetry %s event dropped trace_id=%s panic=%v", event, traceID, r)
	}
}
