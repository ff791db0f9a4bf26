package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shivangsoni/ClaimsAI/internal/telemetry"
)

const DefaultBackendTimeout = 45 * time.Second

type Config struct {
	Backends         []Backend
	Profiles         *Profiles
	Recorder         telemetry.Recorder
	BackendTimeout   time.Duration
	MaxDocumentChars int
	Clock            func() time.Time
	NewTraceID       func() string

	// Cache is optional. When set, repeated decisions skip the backends.
	Cache *ResultCache
}

// Orchestrator tries backends in priority order and always returns a
// well-formed Result. Apart from the shared result cache it holds no
// per-call mutable state.
type Orchestrator struct {
	backends   []Backend
	profiles   *Profiles
	recorder   telemetry.Recorder
	timeout    time.Duration
	maxChars   int
	clock      func() time.Time
	newTraceID func() string
	cache      *ResultCache
}

func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		backends:   append([]Backend(nil), cfg.Backends...),
		profiles:   cfg.Profiles,
		recorder:   telemetry.Safe(cfg.Recorder),
		timeout:    cfg.BackendTimeout,
		maxChars:   cfg.MaxDocumentChars,
		clock:      cfg.Clock,
		newTraceID: cfg.NewTraceID,
		cache:      cfg.Cache,
	}
	if o.profiles == nil {
		o.profiles = DefaultProfiles()
	}
	if o.timeout <= 0 {
		o.timeout = DefaultBackendTimeout
	}
	if o.maxChars <= 0 {
		o.maxChars = DefaultMaxDocumentChars
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.newTraceID == nil {
		o.newTraceID = uuid.NewString
	}
	return o
}

func (o *Orchestrator) Profiles() *Profiles { return o.profiles }

func (o *Orchestrator) Backends() []Backend { return append([]Backend(nil), o.backends...) }

func (o *Orchestrator) BackendNames() []string {
	names := make([]string, 0, len(o.backends))
	for _, b := range o.backends {
		names = append(names, b.Name())
	}
	return names
}

type attemptFailure struct {
	backend string
	err     *BackendError
}

func (o *Orchestrator) Cache() *ResultCache { return o.cache }

// Analyze runs one analysis of free text with no claim context.
func (o *Orchestrator) Analyze(ctx context.Context, documentText, claimType string) Result {
	return o.AnalyzeClaim(ctx, Input{DocumentText: documentText, ClaimType: claimType})
}

func (o *Orchestrator) AnalyzeClaim(ctx context.Context, in Input) Result {
	documentText, claimType := in.DocumentText, in.ClaimType
	traceID := o.newTraceID()
	start := o.clock()
	profile := o.profiles.Select(claimType)
	o.recorder.RecordStart(ctx, traceID, map[string]string{
		"claim_type":     claimType,
		"profile":        profile.Name,
		"backends":       strings.Join(o.BackendNames(), ","),
		"document_chars": strconv.Itoa(len(documentText)),
		"context_fields": strconv.Itoa(len(in.ClaimContext)),
	})

	if IsOCRUnavailable(documentText) {
		res := ocrRequiredResult()
		res.ProcessingMethod = "none"
		return o.finish(ctx, traceID, start, res, nil)
	}

	text, truncated := truncateDocument(documentText, o.maxChars)
	req := Request{
		DocumentText: text,
		ClaimType:    claimType,
		ProfileName:  profile.Name,
		Profile:      profile.Reference,
		ClaimContext: in.ClaimContext,
	}

	key := cacheKey(req)
	if res, ok := o.cache.get(key); ok {
		res.Cached = true
		log.Printf("analysis trace_id=%s served from cache method=%s", traceID, res.ProcessingMethod)
		return o.finish(ctx, traceID, start, res, nil)
	}

	var failures []attemptFailure
	lastRaw := ""
	for _, b := range o.backends {
		if err := ctx.Err(); err != nil {
			failures = append(failures, attemptFailure{backend: b.Name(), err: classifyTransportError(b.Name(), err)})
			break
		}
		raw, err := o.invoke(ctx, b, req)
		if err != nil {
			be := classifyTransportError(b.Name(), err)
			log.Printf("analysis trace_id=%s backend=%s failed kind=%s err=%v", traceID, b.Name(), be.Kind, be)
			failures = append(failures, attemptFailure{backend: b.Name(), err: be})
			continue
		}
		res := Normalize(raw)
		if !res.Status.IsDecision() {
			kind := KindInvalidResponse
			if res.Status == StatusTimeout {
				kind = KindTimeout
			}
			be := newBackendError(b.Name(), kind, "backend reported status %s", res.Status)
			log.Printf("analysis trace_id=%s backend=%s unusable response status=%s", traceID, b.Name(), res.Status)
			failures = append(failures, attemptFailure{backend: b.Name(), err: be})
			lastRaw = raw
			continue
		}
		res.ProcessingMethod = b.Name()
		res.InputTruncated = truncated
		o.cache.put(key, res)
		return o.finish(ctx, traceID, start, res, nil)
	}

	res := classifyFailures(failures)
	res.InputTruncated = truncated
	if lastRaw != "" {
		res.RawResponse = lastRaw
	}
	return o.finish(ctx, traceID, start, res, failureError(failures))
}

// invoke bounds one backend call by the per-backend timeout. The call runs on
// its own goroutine with a buffered reply so a backend that ignores ctx
// cannot block the orchestrator.
func (o *Orchestrator) invoke(ctx context.Context, b Backend, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type reply struct {
		raw string
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: newBackendError(b.Name(), KindServer, "backend panic: %v", r)}
			}
		}()
		raw, err := b.Invoke(callCtx, req)
		ch <- reply{raw: raw, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		if strings.TrimSpace(r.raw) == "" {
			return "", newBackendError(b.Name(), KindEmpty, "backend returned empty content")
		}
		return r.raw, nil
	case <-callCtx.Done():
		return "", classifyTransportError(b.Name(), callCtx.Err())
	}
}

// classifyFailures picks TIMEOUT only when every attempt timed out.
func classifyFailures(failures []attemptFailure) Result {
	if len(failures) == 0 {
		res := errorResult("no inference backends configured")
		res.ProcessingMethod = "none"
		return res
	}
	allTimeout := true
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		if f.err.Kind != KindTimeout {
			allTimeout = false
		}
		parts = append(parts, fmt.Sprintf("%s: %s", f.backend, f.err.Kind))
	}
	summary := "all backends failed (" + strings.Join(parts, "; ") + ")"
	var res Result
	if allTimeout {
		res = timeoutResult()
		res.ProcessingNotes += " " + summary
	} else {
		res = errorResult(summary)
		res.RawResponse = failures[len(failures)-1].err.Error()
	}
	res.ProcessingMethod = failures[len(failures)-1].backend
	return res
}

func failureError(failures []attemptFailure) error {
	if len(failures) == 0 {
		return errors.New("no inference backends configured")
	}
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f.err)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) finish(ctx context.Context, traceID string, start time.Time, res Result, err error) Result {
	elapsed := o.clock().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	res.TraceID = traceID
	res.AnalyzedAt = start.UTC()
	res.DurationMS = elapsed.Milliseconds()
	if err != nil {
		o.recorder.RecordError(ctx, traceID, err, elapsed)
	} else {
		o.recorder.RecordFinish(ctx, traceID, string(res.Status), elapsed)
	}
	return res
}
