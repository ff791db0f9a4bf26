package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
	"github.com/shivangsoni/ClaimsAI/internal/claims"
	"github.com/shivangsoni/ClaimsAI/internal/extract"
	"github.com/shivangsoni/ClaimsAI/internal/report"
)

// DocumentExtractor turns an uploaded blob into text.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, declaredType string) (extract.Result, error)
}

type Config struct {
	Store         claims.Store
	Lifecycle     *claims.Lifecycle
	Analyzer      analysis.Analyzer
	Profiles      *analysis.Profiles
	Backends      []analysis.Backend
	Extractor     DocumentExtractor
	TelemetryMode string
	Clock         func() time.Time
	NewID         func() string
}

// Service implements the inbound claim commands on top of the lifecycle,
// the analysis orchestrator and the record store.
type Service struct {
	store         claims.Store
	lifecycle     *claims.Lifecycle
	analyzer      analysis.Analyzer
	profiles      *analysis.Profiles
	backends      []analysis.Backend
	extractor     DocumentExtractor
	telemetryMode string
	clock         func() time.Time
	newID         func() string
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	s := &Service{
		store:         cfg.Store,
		lifecycle:     cfg.Lifecycle,
		analyzer:      cfg.Analyzer,
		profiles:      cfg.Profiles,
		backends:      append([]analysis.Backend(nil), cfg.Backends...),
		extractor:     cfg.Extractor,
		telemetryMode: cfg.TelemetryMode,
		clock:         cfg.Clock,
		newID:         cfg.NewID,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.lifecycle == nil {
		s.lifecycle = claims.NewLifecycle(claims.LifecycleConfig{Store: cfg.Store, Clock: s.clock, NewID: s.newID})
	}
	if s.profiles == nil {
		s.profiles = analysis.DefaultProfiles()
	}
	if s.extractor == nil {
		s.extractor = extract.New()
	}
	if s.telemetryMode == "" {
		s.telemetryMode = "none"
	}
	return s, nil
}

type ClaimDetail struct {
	Claim     claims.Claim            `json:"claim"`
	Documents []claims.Document       `json:"documents"`
	Analyses  []claims.AnalysisRecord `json:"analyses"`
}

type AnalysisOutcome struct {
	Record      claims.AnalysisRecord    `json:"record"`
	Suggestions analysis.Suggestions     `json:"improvement_suggestions"`
	Transition  *claims.StatusTransition `json:"transition,omitempty"`
	Claim       claims.Claim             `json:"claim"`
}

// DocumentSubmission is the result of SubmitDocument.
type DocumentSubmission struct {
	AnalysisOutcome
	Document claims.Document `json:"document"`
}

type SetStatusRequest struct {
	Status         claims.Status `json:"status"`
	ExpectedStatus claims.Status `json:"expected_status,omitempty"`
	ChangedBy      string        `json:"changed_by"`
	Reason         string        `json:"reason"`
	Notes          string        `json:"notes"`
}

type TextAnalysis struct {
	Analysis    analysis.Result      `json:"document_analysis"`
	Suggestions analysis.Suggestions `json:"improvement_suggestions"`
	Comparison  *analysis.Comparison `json:"comparison_with_approved,omitempty"`
	Skipped     string               `json:"comparison_skipped,omitempty"`
}

type Stats struct {
	Total    int                   `json:"total"`
	ByStatus map[claims.Status]int `json:"by_status"`
}

// SubmitClaim creates a claim in the open state. An empty claim type falls
// back to the default reference profile.
func (s *Service) SubmitClaim(ctx context.Context, claimType string, attrs map[string]string) (claims.Claim, error) {
	claimType = strings.TrimSpace(claimType)
	if claimType == "" {
		claimType = s.profiles.Default()
	}
	c, err := s.lifecycle.Submit(ctx, claimType, attrs)
	if err != nil {
		return claims.Claim{}, err
	}
	log.Printf("claim submitted claim_id=%s claim_type=%s", c.ID, c.ClaimType)
	return c, nil
}

func (s *Service) GetClaim(ctx context.Context, id string) (ClaimDetail, error) {
	c, err := s.store.GetClaim(ctx, id)
	if err != nil {
		return ClaimDetail{}, err
	}
	docs, err := s.store.ListDocuments(ctx, id)
	if err != nil {
		return ClaimDetail{}, err
	}
	results, err := s.store.ListAnalysisResults(ctx, id)
	if err != nil {
		return ClaimDetail{}, err
	}
	return ClaimDetail{Claim: c, Documents: docs, Analyses: results}, nil
}

func (s *Service) ListClaims(ctx context.Context, f claims.ListFilter) ([]claims.Claim, error) {
	if f.Status != "" {
		st, ok := claims.ParseStatus(string(f.Status))
		if !ok {
			return nil, claims.NewValidationError("unknown status %q", f.Status)
		}
		f.Status = st
	}
	return s.store.ListClaims(ctx, f)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.store.ListClaims(ctx, claims.ListFilter{})
	if err != nil {
		return Stats{}, err
	}
	out := Stats{Total: len(all), ByStatus: map[claims.Status]int{}}
	for _, c := range all {
		out.ByStatus[c.Status]++
	}
	return out, nil
}

// AttachDocument extracts text from an upload and stores it against the
// claim. Uploads that yield no text are rejected.
func (s *Service) AttachDocument(ctx context.Context, claimID, filename string, data []byte) (claims.Document, error) {
	if _, err := s.store.GetClaim(ctx, claimID); err != nil {
		return claims.Document{}, err
	}
	res, err := s.extract(ctx, filename, data)
	if err != nil {
		return claims.Document{}, err
	}
	return s.storeDocument(ctx, claimID, filename, data, res)
}

func (s *Service) extract(ctx context.Context, filename string, data []byte) (extract.Result, error) {
	res, err := s.extractor.Extract(ctx, data, filename)
	switch {
	case errors.Is(err, extract.ErrUnsupportedType):
		return extract.Result{}, claims.NewValidationError("file type not allowed: %s", filename)
	case errors.Is(err, extract.ErrTooLarge):
		return extract.Result{}, claims.NewValidationError("file exceeds the %d byte upload limit", extract.MaxUploadBytes)
	case errors.Is(err, extract.ErrNoText):
		return extract.Result{}, claims.NewValidationError("could not extract text from %s", filename)
	case err != nil:
		return extract.Result{}, claims.NewInternalError("extract %s: %v", filename, err)
	}
	return res, nil
}

func (s *Service) storeDocument(ctx context.Context, claimID, filename string, data []byte, res extract.Result) (claims.Document, error) {
	doc := claims.Document{
		ID:               s.newID(),
		ClaimID:          claimID,
		Filename:         filename,
		MediaType:        res.MediaType,
		SizeBytes:        int64(len(data)),
		Text:             res.Text,
		ExtractionMethod: res.Method,
		OCRRequired:      res.OCRRequired,
		CreatedAt:        s.clock().UTC(),
	}
	if err := s.store.AddDocument(ctx, doc); err != nil {
		return claims.Document{}, err
	}
	log.Printf("document attached claim_id=%s document_id=%s method=%s ocr_required=%t bytes=%d", claimID, doc.ID, doc.ExtractionMethod, doc.OCRRequired, doc.SizeBytes)
	return doc, nil
}

// SubmitDocument is the one-step intake: the upload is analyzed first, a
// claim is opened with the fields the analysis extracted as its attributes,
// and the document, the analysis record and any AI transition are stored
// against it. Nothing is stored when extraction fails.
func (s *Service) SubmitDocument(ctx context.Context, claimType, filename string, data []byte) (DocumentSubmission, error) {
	ex, err := s.extract(ctx, filename, data)
	if err != nil {
		return DocumentSubmission{}, err
	}
	if strings.TrimSpace(claimType) == "" {
		claimType = s.profiles.Default()
	}
	res := s.analyzer.AnalyzeClaim(ctx, analysis.Input{DocumentText: ex.Text, ClaimType: claimType})

	attrs := make(map[string]string, len(res.ExtractedData))
	for k, v := range res.ExtractedData {
		if strings.TrimSpace(v) != "" {
			attrs[k] = v
		}
	}
	c, err := s.SubmitClaim(ctx, claimType, attrs)
	if err != nil {
		return DocumentSubmission{}, err
	}
	doc, err := s.storeDocument(ctx, c.ID, filename, data, ex)
	if err != nil {
		return DocumentSubmission{}, err
	}
	out, err := s.recordAnalysis(ctx, c, doc, res)
	if err != nil {
		return DocumentSubmission{}, err
	}
	return DocumentSubmission{AnalysisOutcome: out, Document: doc}, nil
}

// RequestAnalysis runs the orchestrator against the claim's newest document,
// stores the result and, for an open claim with a decision, applies the
// AI-suggested transition. Losing that transition to a concurrent human
// change is not an error.
func (s *Service) RequestAnalysis(ctx context.Context, claimID, claimType string) (AnalysisOutcome, error) {
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return AnalysisOutcome{}, err
	}
	doc, err := s.store.LatestDocument(ctx, claimID)
	if errors.Is(err, claims.ErrNotFound) {
		return AnalysisOutcome{}, claims.NewValidationError("claim %s has no documents to analyze", claimID)
	}
	if err != nil {
		return AnalysisOutcome{}, err
	}
	if strings.TrimSpace(claimType) == "" {
		claimType = c.ClaimType
	}

	res := s.analyzer.AnalyzeClaim(ctx, analysis.Input{
		DocumentText: doc.Text,
		ClaimType:    claimType,
		ClaimContext: c.Attributes,
	})
	return s.recordAnalysis(ctx, c, doc, res)
}

func (s *Service) recordAnalysis(ctx context.Context, c claims.Claim, doc claims.Document, res analysis.Result) (AnalysisOutcome, error) {
	rec := claims.AnalysisRecord{
		ID:         s.newID(),
		ClaimID:    c.ID,
		DocumentID: doc.ID,
		Result:     res,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.store.AppendAnalysisResult(ctx, rec); err != nil {
		return AnalysisOutcome{}, err
	}
	out := AnalysisOutcome{Record: rec, Suggestions: analysis.Suggest(res), Claim: c}

	if c.Status == claims.StatusOpen && res.Status.IsDecision() {
		tr, err := s.lifecycle.ApplyAISuggestion(ctx, c.ID, res)
		switch {
		case err == nil:
			out.Transition = &tr
		case errors.Is(err, claims.ErrInvalidTransition), errors.Is(err, claims.ErrConflict):
			log.Printf("ai transition skipped claim_id=%s: %v", c.ID, err)
		default:
			return AnalysisOutcome{}, err
		}
	}
	if updated, err := s.store.GetClaim(ctx, c.ID); err == nil {
		out.Claim = updated
	}
	log.Printf("analysis stored claim_id=%s status=%s method=%s trace_id=%s cached=%t", c.ID, res.Status, res.ProcessingMethod, res.TraceID, res.Cached)
	return out, nil
}

func (s *Service) SetStatus(ctx context.Context, claimID string, req SetStatusRequest) (claims.StatusTransition, error) {
	to, ok := claims.ParseStatus(string(req.Status))
	if !ok {
		return claims.StatusTransition{}, claims.NewValidationError("unknown status %q", req.Status)
	}
	var expected claims.Status
	if req.ExpectedStatus != "" {
		if expected, ok = claims.ParseStatus(string(req.ExpectedStatus)); !ok {
			return claims.StatusTransition{}, claims.NewValidationError("unknown expected_status %q", req.ExpectedStatus)
		}
	}
	return s.lifecycle.SetStatus(ctx, claimID, to, expected, req.ChangedBy, req.Reason, req.Notes)
}

func (s *Service) History(ctx context.Context, claimID string) ([]claims.StatusTransition, error) {
	return s.lifecycle.History(ctx, claimID)
}

// AnalyzeText analyzes raw text without a claim. The profile comparison is
// skipped when the analysis itself failed.
func (s *Service) AnalyzeText(ctx context.Context, text, claimType string) (TextAnalysis, error) {
	if strings.TrimSpace(text) == "" {
		return TextAnalysis{}, claims.NewValidationError("text is required")
	}
	if strings.TrimSpace(claimType) == "" {
		claimType = s.profiles.Default()
	}
	res := s.analyzer.AnalyzeClaim(ctx, analysis.Input{DocumentText: text, ClaimType: claimType})
	out := TextAnalysis{Analysis: res, Suggestions: analysis.Suggest(res)}
	if res.Status.IsFailure() {
		out.Skipped = fmt.Sprintf("skipped due to analysis failure (%s)", res.Status)
		return out, nil
	}
	cmp := s.Compare(ctx, text)
	out.Comparison = &cmp
	return out, nil
}

func (s *Service) Compare(ctx context.Context, text string) analysis.Comparison {
	return analysis.Compare(ctx, s.analyzer, s.profiles.Names(), text)
}

func (s *Service) Report(ctx context.Context, claimID string) (report.ClaimReport, error) {
	detail, err := s.GetClaim(ctx, claimID)
	if err != nil {
		return report.ClaimReport{}, err
	}
	history, err := s.store.ListTransitions(ctx, claimID)
	if err != nil {
		return report.ClaimReport{}, err
	}
	return report.ClaimReport{
		Claim:       detail.Claim,
		Documents:   detail.Documents,
		Analyses:    detail.Analyses,
		Transitions: history,
		GeneratedAt: s.clock().UTC(),
	}, nil
}

type BackendStatus struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Checked   bool   `json:"checked"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

type IntegrationStatus struct {
	Backends      []BackendStatus `json:"backends"`
	TelemetryMode string          `json:"telemetry_mode"`
	Profiles      []string        `json:"profiles"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// IntegrationStatus runs the health check of every backend that has one.
func (s *Service) IntegrationStatus(ctx context.Context) IntegrationStatus {
	out := IntegrationStatus{
		Backends:      make([]BackendStatus, 0, len(s.backends)),
		TelemetryMode: s.telemetryMode,
		Profiles:      s.profiles.Names(),
		CheckedAt:     s.clock().UTC(),
	}
	for i, b := range s.backends {
		st := BackendStatus{Name: b.Name(), Priority: i + 1, Reachable: true}
		if hc, ok := b.(analysis.HealthChecker); ok {
			st.Checked = true
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := hc.Health(checkCtx); err != nil {
				st.Reachable = false
				st.Error = err.Error()
			}
			cancel()
		}
		out.Backends = append(out.Backends, st)
	}
	return out
}
