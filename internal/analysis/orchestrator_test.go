package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	now := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newTestOrchestrator(rec *fakeRecorder, timeout time.Duration, backends ...Backend) *Orchestrator {
	return NewOrchestrator(Config{
		Backends:       backends,
		Recorder:       rec,
		BackendTimeout: timeout,
		Clock:          fixedClock(),
		NewTraceID:     func() string { return "trace-1" },
	})
}

func TestAnalyzeOCRSentinelSkipsBackends(t *testing.T) {
	rec := &fakeRecorder{}
	b := &mockBackend{name: "flow", raw: approvedJSON}
	o := newTestOrchestrator(rec, time.Second, b)

	res := o.Analyze(context.Background(), OCRUnavailableMarker+" scan.png", "medical_claim")
	if res.Status != StatusOCRRequired || !res.OCRRequired {
		t.Fatalf("expected OCR_REQUIRED, got %+v", res)
	}
	if b.calls.Load() != 0 {
		t.Fatalf("backend invoked %d times", b.calls.Load())
	}
	events := rec.snapshot()
	if len(events) != 2 || events[0].kind != "start" || events[1].kind != "finish" || events[1].outcome != "OCR_REQUIRED" {
		t.Fatalf("unexpected telemetry: %+v", events)
	}
}

func TestAnalyzeAllTimeoutsYieldTimeout(t *testing.T) {
	rec := &fakeRecorder{}
	slow1 := &mockBackend{name: "flow", raw: approvedJSON, delay: time.Second}
	slow2 := &mockBackend{name: "chain", err: &BackendError{Kind: KindTimeout, Err: errors.New("deadline")}}
	o := newTestOrchestrator(rec, 20*time.Millisecond, slow1, slow2)

	res := o.Analyze(context.Background(), "claim text", "medical_claim")
	if res.Status != StatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s (%s)", res.Status, res.ProcessingNotes)
	}
	events := rec.snapshot()
	if events[len(events)-1].kind != "error" {
		t.Fatalf("expected error event, got %+v", events)
	}
}

func TestAnalyzeMixedFailuresYieldError(t *testing.T) {
	o := newTestOrchestrator(&fakeRecorder{}, 20*time.Millisecond,
		&mockBackend{name: "flow", raw: approvedJSON, delay: time.Second},
		&mockBackend{name: "chain", err: assertErr("status code: 401 unauthorized")},
	)
	res := o.Analyze(context.Background(), "claim text", "medical_claim")
	if res.Status != StatusError {
		t.Fatalf("expected ERROR, got %s", res.Status)
	}
	if !strings.Contains(res.ProcessingNotes, "flow: timeout") || !strings.Contains(res.ProcessingNotes, "chain: client") {
		t.Fatalf("notes=%q", res.ProcessingNotes)
	}
}

func TestAnalyzeFallsBackToNextBackend(t *testing.T) {
	first := &mockBackend{name: "flow", err: assertErr("connection refused")}
	bad := &mockBackend{name: "chain", raw: "not json at all"}
	good := &mockBackend{name: "graph", raw: "```json\n" + approvedJSON + "\n```"}
	never := &mockBackend{name: "spare", raw: approvedJSON}
	o := newTestOrchestrator(&fakeRecorder{}, time.Second, first, bad, good, never)

	res := o.Analyze(context.Background(), "claim text", "pharmacy")
	if res.Status != StatusApproved || res.ProcessingMethod != "graph" {
		t.Fatalf("unexpected result: %s via %s", res.Status, res.ProcessingMethod)
	}
	if res.TraceID != "trace-1" || res.AnalyzedAt.IsZero() {
		t.Fatalf("missing trace metadata: %+v", res)
	}
	if never.calls.Load() != 0 {
		t.Fatal("backends after the first success must not be invoked")
	}
	if got := good.lastRequest().ProfileName; got != "pharmacy_claim" {
		t.Fatalf("profile=%q", got)
	}
}

func TestAnalyzeBackendErrorStatusFallsThrough(t *testing.T) {
	first := &mockBackend{name: "flow", raw: `{"status":"ERROR","processing_notes":"upstream"}`}
	second := &mockBackend{name: "chain", raw: approvedJSON}
	o := newTestOrchestrator(&fakeRecorder{}, time.Second, first, second)
	res := o.Analyze(context.Background(), "claim text", "")
	if res.Status != StatusApproved || res.ProcessingMethod != "chain" {
		t.Fatalf("unexpected result: %s via %s", res.Status, res.ProcessingMethod)
	}
}

func TestAnalyzeUnparseableOutputPreservesRaw(t *testing.T) {
	o := newTestOrchestrator(&fakeRecorder{}, time.Second, &mockBackend{name: "chain", raw: "model refused"})
	res := o.Analyze(context.Background(), "claim text", "medical_claim")
	if res.Status != StatusError {
		t.Fatalf("status=%s", res.Status)
	}
	if res.RawResponse != "model refused" {
		t.Fatalf("raw=%q", res.RawResponse)
	}
}

func TestAnalyzeHangingBackendDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	hang := &mockBackend{name: "flow", hang: true, release: release}
	o := newTestOrchestrator(&fakeRecorder{}, 30*time.Millisecond, hang)

	done := make(chan Result, 1)
	go func() { done <- o.Analyze(context.Background(), "claim text", "medical_claim") }()
	select {
	case res := <-done:
		if res.Status != StatusTimeout {
			t.Fatalf("expected TIMEOUT, got %s", res.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator blocked on a hanging backend")
	}
}

func TestAnalyzeNoBackendsIsError(t *testing.T) {
	rec := &fakeRecorder{}
	o := newTestOrchestrator(rec, time.Second)
	res := o.Analyze(context.Background(), "claim text", "medical_claim")
	if res.Status != StatusError {
		t.Fatalf("status=%s", res.Status)
	}
}

func TestAnalyzeCanceledContextStopsFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &mockBackend{name: "flow", raw: approvedJSON}
	o := newTestOrchestrator(&fakeRecorder{}, time.Second, b)
	res := o.Analyze(ctx, "claim text", "medical_claim")
	if res.Status != StatusError {
		t.Fatalf("status=%s", res.Status)
	}
	if b.calls.Load() != 0 {
		t.Fatal("backend should not run after cancellation")
	}
}

func TestAnalyzeTruncatesLongDocuments(t *testing.T) {
	b := &mockBackend{name: "chain", raw: approvedJSON}
	o := NewOrchestrator(Config{Backends: []Backend{b}, MaxDocumentChars: 10, Clock: fixedClock()})
	res := o.Analyze(context.Background(), strings.Repeat("x", 50), "medical_claim")
	if !res.InputTruncated {
		t.Fatal("expected truncation flag")
	}
	if got := b.lastRequest().DocumentText; got != strings.Repeat("x", 10)+"\n\n[TRUNCATED]" {
		t.Fatalf("document=%q", got)
	}
}

func TestAnalyzePanickingRecorderDoesNotFailAnalysis(t *testing.T) {
	o := NewOrchestrator(Config{
		Backends: []Backend{&mockBackend{name: "chain", raw: approvedJSON}},
		Recorder: panicRecorder{},
	})
	if res := o.Analyze(context.Background(), "claim text", "medical_claim"); res.Status != StatusApproved {
		t.Fatalf("status=%s", res.Status)
	}
}

type panicRecorder struct{}

func (panicRecorder) RecordStart(context.Context, string, map[string]string) { panic("x") }
func (panicRecorder) RecordFinish(context.Context, string, string, time.Duration) { panic("x") }
func (panicRecorder) RecordError(context.Context, string, error, time.Duration) { panic("x") }

func TestClassifyTransportErrorAvoidsBroadNumericMatch(t *testing.T) {
	for msg, want := range map[string]ErrorKind{
		"failed after 5 retries while waiting 4 seconds": KindServer,
		"status code: 400 bad request":                  KindClient,
		"status=500 upstream error":                     KindServer,
		"POST https://api: 429 Too Many Requests":       KindRateLimit,
		"dial tcp: connection refused":                  KindUnavailable,
	} {
		if got := classifyTransportError("x", assertErr(msg)).Kind; got != want {
			t.Fatalf("%q: got %s want %s", msg, got, want)
		}
	}
	if got := classifyTransportError("x", context.DeadlineExceeded).Kind; got != KindTimeout {
		t.Fatalf("deadline: %s", got)
	}
	if got := classifyTransportError("x", context.Canceled).Kind; got != KindCanceled {
		t.Fatalf("canceled: %s", got)
	}
}

func newCachingOrchestrator(rec *fakeRecorder, backends ...Backend) *Orchestrator {
	var (
		n   int
		now = time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	)
	return NewOrchestrator(Config{
		Backends: backends,
		Recorder: rec,
		Cache:    NewResultCache(time.Minute),
		Clock: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
		NewTraceID: func() string {
			n++
			return fmt.Sprintf("trace-%d", n)
		},
	})
}

func TestAnalyzeCacheHitKeepsPerCallTraceAndTelemetry(t *testing.T) {
	rec := &fakeRecorder{}
	b := &mockBackend{name: "chain", raw: approvedJSON}
	o := newCachingOrchestrator(rec, b)

	first := o.Analyze(context.Background(), "claim text", "medical_claim")
	second := o.Analyze(context.Background(), "claim text", "medical_claim")

	if b.calls.Load() != 1 {
		t.Fatalf("backend calls=%d", b.calls.Load())
	}
	if first.Cached || !second.Cached {
		t.Fatalf("cached flags first=%v second=%v", first.Cached, second.Cached)
	}
	if first.TraceID == second.TraceID {
		t.Fatalf("trace id reused: %s", first.TraceID)
	}
	if !second.AnalyzedAt.After(first.AnalyzedAt) {
		t.Fatalf("analyzed_at not refreshed: %v then %v", first.AnalyzedAt, second.AnalyzedAt)
	}
	if second.Status != StatusApproved || second.ProcessingMethod != "chain" {
		t.Fatalf("second=%+v", second)
	}

	events := rec.snapshot()
	if len(events) != 4 {
		t.Fatalf("expected 4 telemetry events, got %+v", events)
	}
	kinds := []string{"start", "finish", "start", "finish"}
	for i, e := range events {
		if e.kind != kinds[i] {
			t.Fatalf("event %d kind=%s", i, e.kind)
		}
	}
	if events[2].traceID != second.TraceID || events[3].outcome != "APPROVED" {
		t.Fatalf("cache hit telemetry=%+v", events[2:])
	}
}

func TestAnalyzeCacheSkipsFailuresAndIsolatesCallers(t *testing.T) {
	failing := &mockBackend{name: "chain", err: &BackendError{Kind: KindServer, Err: errors.New("boom")}}
	o := newCachingOrchestrator(&fakeRecorder{}, failing)
	o.Analyze(context.Background(), "claim text", "medical_claim")
	o.Analyze(context.Background(), "claim text", "medical_claim")
	if failing.calls.Load() != 2 {
		t.Fatalf("failures must not be cached, calls=%d", failing.calls.Load())
	}
	if o.Cache().Len() != 0 {
		t.Fatalf("cache len=%d", o.Cache().Len())
	}

	b := &mockBackend{name: "chain", raw: approvedJSON}
	o = newCachingOrchestrator(&fakeRecorder{}, b)
	first := o.Analyze(context.Background(), "claim text", "medical_claim")
	first.ExtractedData["patient_name"] = "tampered"
	first.KeyFactors[0] = "tampered"
	second := o.Analyze(context.Background(), "claim text", "medical_claim")
	if second.ExtractedData["patient_name"] != "John Smith" || second.KeyFactors[0] != "policy active" {
		t.Fatalf("cached result shared with caller: %+v", second)
	}
}

func TestAnalyzeClaimContextReachesBackendAndCacheKey(t *testing.T) {
	b := &mockBackend{name: "chain", raw: approvedJSON}
	o := newCachingOrchestrator(&fakeRecorder{}, b)

	in := Input{DocumentText: "claim text", ClaimType: "medical_claim", ClaimContext: map[string]string{"member_id": "M-7"}}
	o.AnalyzeClaim(context.Background(), in)
	if got := b.lastRequest().ClaimContext["member_id"]; got != "M-7" {
		t.Fatalf("backend claim context=%v", b.lastRequest().ClaimContext)
	}

	in.ClaimContext = map[string]string{"member_id": "M-8"}
	if res := o.AnalyzeClaim(context.Background(), in); res.Cached {
		t.Fatal("different claim context must not hit the cache")
	}
	if res := o.AnalyzeClaim(context.Background(), in); !res.Cached {
		t.Fatal("same claim context should hit the cache")
	}
	if b.calls.Load() != 2 {
		t.Fatalf("backend calls=%d", b.calls.Load())
	}
}
