package telemetry

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// LogRecorder writes one line per event to a stdlib logger.
type LogRecorder struct {
	logger *log.Logger
}

func NewLogRecorder(logger *log.Logger) *LogRecorder {
	if logger == nil {
		logger = log.New(os.Stdout, "claimsai-telemetry ", log.LstdFlags)
	}
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) RecordStart(_ context.Context, traceID string, meta map[string]string) {
	r.logger.Printf("analysis start trace_id=%s %s", traceID, formatMeta(meta))
}

func (r *LogRecorder) RecordFinish(_ context.Context, traceID string, outcome string, duration time.Duration) {
	r.logger.Printf("analysis finish trace_id=%s outcome=%s duration=%s", traceID, outcome, duration.Round(time.Millisecond))
}

func (r *LogRecorder) RecordError(_ context.Context, traceID string, err error, duration time.Duration) {
	r.logger.Printf("analysis error trace_id=%s duration=%s err=%v", traceID, duration.Round(time.Millisecond), err)
}

func formatMeta(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, " ")
}
