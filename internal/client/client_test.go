package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
	"github.com/shivangsoni/ClaimsAI/internal/claims"
	"github.com/shivangsoni/ClaimsAI/internal/httpapi"
	"github.com/shivangsoni/ClaimsAI/internal/service"
)

type approvingAnalyzer struct{}

func (approvingAnalyzer) AnalyzeClaim(context.Context, analysis.Input) analysis.Result {
	return analysis.Result{
		Status:            analysis.StatusApproved,
		ConfidenceLevel:   90,
		CompletenessScore: 100,
		ProcessingMethod:  "chain",
		TraceID:           "trace-client",
		ExtractedData:     map[string]string{"patient_name": "John Smith"},
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	svc, err := service.New(service.Config{
		Store:    claims.NewMemoryStore(),
		Analyzer: approvingAnalyzer{},
		Clock:    func() time.Time { return time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewServer(svc, nil))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func TestClientDrivesClaimLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	claim, err := c.SubmitClaim(ctx, "medical_claim", map[string]string{"member_id": "M-7"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if claim.Status != claims.StatusOpen || claim.ID == "" {
		t.Fatalf("claim=%+v", claim)
	}

	up, err := c.UploadDocument(ctx, claim.ID, "claim.txt", []byte("Patient: John Smith\nTotal: $250"), true, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if up.Document.ID == "" || up.Analysis == nil {
		t.Fatalf("upload result=%+v", up)
	}
	if up.Analysis.Transition == nil || up.Analysis.Transition.ToStatus != claims.StatusValidationComplete {
		t.Fatalf("expected AI transition, got %+v", up.Analysis.Transition)
	}

	tr, err := c.SetStatus(ctx, claim.ID, service.SetStatusRequest{
		Status:    claims.StatusVerified,
		ChangedBy: "adjuster-1",
		Reason:    "documents check out",
	})
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if tr.FromStatus != claims.StatusValidationComplete || tr.ToStatus != claims.StatusVerified {
		t.Fatalf("transition=%+v", tr)
	}

	history, err := c.History(ctx, claim.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || !history[0].AISuggested || history[1].ChangedBy != "adjuster-1" {
		t.Fatalf("history=%+v", history)
	}

	detail, err := c.GetClaim(ctx, claim.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Claim.Status != claims.StatusVerified || len(detail.Documents) != 1 || len(detail.Analyses) != 1 {
		t.Fatalf("detail=%+v", detail)
	}

	md, err := c.ReportMarkdown(ctx, claim.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(md, "# Claim Report: "+claim.ID) {
		t.Fatalf("report=%s", md)
	}
}

func TestClientSubmitDocument(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	out, err := c.SubmitDocument(ctx, "claim.txt", []byte("Patient: John Smith\nTotal: $250"), "pharmacy_claim")
	if err != nil {
		t.Fatalf("submit document: %v", err)
	}
	if out.Claim.ClaimType != "pharmacy_claim" || out.Claim.Attributes["patient_name"] != "John Smith" {
		t.Fatalf("claim=%+v", out.Claim)
	}
	if out.Document.ClaimID != out.Claim.ID || out.Document.Filename != "claim.txt" {
		t.Fatalf("document=%+v", out.Document)
	}
	if out.Analysis.Transition == nil || out.Claim.Status != claims.StatusValidationComplete {
		t.Fatalf("analysis=%+v", out.Analysis)
	}

	if _, err := c.SubmitDocument(ctx, "claim.docx", []byte("text"), ""); !errors.Is(err, claims.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClientMapsErrorEnvelope(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	if _, err := c.GetClaim(ctx, "missing"); !errors.Is(err, claims.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	claim, err := c.SubmitClaim(ctx, "", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = c.SetStatus(ctx, claim.ID, service.SetStatusRequest{Status: claims.StatusApproved, ChangedBy: "adjuster-1"})
	if !errors.Is(err, claims.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var ce *claims.Error
	if !errors.As(err, &ce) || ce.Status != 422 {
		t.Fatalf("status not carried: %v", err)
	}

	if _, err := c.Analyze(ctx, claim.ID, ""); !errors.Is(err, claims.ErrValidation) {
		t.Fatalf("analyze without a document should be a validation error, got %v", err)
	}
}

func TestClientListAndStats(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()
	for i := 0; i < 3; i++ {
		if _, err := c.SubmitClaim(ctx, "", nil); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	list, err := c.ListClaims(ctx, claims.StatusOpen, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list len=%d", len(list))
	}
	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 || st.ByStatus[claims.StatusOpen] != 3 {
		t.Fatalf("stats=%+v", st)
	}
}
