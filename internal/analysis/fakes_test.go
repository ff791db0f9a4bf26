package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type assertErr string

func (e assertErr) Error() string { return string(e) }

type mockBackend struct {
	name  string
	raw   string
	err   error
	delay time.Duration
	// hang ignores ctx entirely until release is closed.
	hang    bool
	release chan struct{}
	calls   atomic.Int32

	mu       sync.Mutex
	requests []Request
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Invoke(ctx context.Context, req Request) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.hang {
		<-m.release
		return m.raw, m.err
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.raw, m.err
}

func (m *mockBackend) lastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}
	}
	return m.requests[len(m.requests)-1]
}

type mockCaller struct {
	raw     string
	err     error
	calls   atomic.Int32
	prompts []string
	mu      sync.Mutex
}

func (m *mockCaller) GenerateJSON(_ context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return m.raw, m.err
}

type recordedEvent struct {
	kind    string
	traceID string
	outcome string
	err     error
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) RecordStart(_ context.Context, traceID string, _ map[string]string) {
	f.add(recordedEvent{kind: "start", traceID: traceID})
}

func (f *fakeRecorder) RecordFinish(_ context.Context, traceID string, outcome string, _ time.Duration) {
	f.add(recordedEvent{kind: "finish", traceID: traceID, outcome: outcome})
}

func (f *fakeRecorder) RecordError(_ context.Context, traceID string, err error, _ time.Duration) {
	f.add(recordedEvent{kind: "error", traceID: traceID, err: err})
}

func (f *fakeRecorder) add(e recordedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeRecorder) snapshot() []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedEvent(nil), f.events...)
}

const approvedJSON = `{"status":"APPROVED","confidence_level":95,"completeness_score":100,"decision_reasoning":"All fields present.","key_factors":["policy active","codes consistent"],"extracted_data":{"patient_name":"John Smith","policy_number":"POL12345678"}}`
