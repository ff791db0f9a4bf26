package analysis

import (
	"context"
	"time"
)

type Status string

const (
	StatusApproved    Status = "APPROVED"
	StatusDenied      Status = "DENIED"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	StatusOCRRequired Status = "OCR_REQUIRED"
	StatusTimeout     Status = "TIMEOUT"
	StatusError       Status = "ERROR"
)

// IsDecision reports whether s is a successful coverage decision.
func (s Status) IsDecision() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusNeedsReview:
		return true
	default:
		return false
	}
}

func (s Status) IsFailure() bool {
	switch s {
	case StatusOCRRequired, StatusTimeout, StatusError:
		return true
	default:
		return false
	}
}

type ValidationError struct {
	Field          string `json:"field"`
	Error          string `json:"error"`
	ExpectedFormat string `json:"expected_format"`
}

type DataQualityIssue struct {
	Section  string `json:"section"`
	Issue    string `json:"issue"`
	Severity string `json:"severity"`
}

// Result is the normalized outcome of one Analyze call. Status is always set.
type Result struct {
	Status            Status             `json:"status"`
	ConfidenceLevel   int                `json:"confidence_level"`
	CompletenessScore int                `json:"completeness_score"`
	DecisionReasoning string             `json:"decision_reasoning"`
	KeyFactors        []string           `json:"key_factors"`
	MissingSections   []string           `json:"missing_sections"`
	FoundSections     []string           `json:"found_sections"`
	DataQualityIssues []DataQualityIssue `json:"data_quality_issues"`
	ValidationErrors  []ValidationError  `json:"validation_errors"`
	Recommendations   []string           `json:"recommendations"`
	ExtractedData     map[string]string  `json:"extracted_data"`
	ProcessingNotes   string             `json:"processing_notes"`
	ProcessingMethod  string             `json:"processing_method"`
	TraceID           string             `json:"trace_id,omitempty"`
	RawResponse       string             `json:"raw_response,omitempty"`
	OCRRequired       bool               `json:"ocr_required"`
	InputTruncated    bool               `json:"input_truncated"`
	Cached            bool               `json:"cached,omitempty"`
	AnalyzedAt        time.Time          `json:"analyzed_at"`
	DurationMS        int64              `json:"duration_ms"`
}

// Clone returns a deep copy so cached results cannot be mutated by callers.
func (r Result) Clone() Result {
	out := r
	out.KeyFactors = append([]string{}, r.KeyFactors...)
	out.MissingSections = append([]string{}, r.MissingSections...)
	out.FoundSections = append([]string{}, r.FoundSections...)
	out.DataQualityIssues = append([]DataQualityIssue{}, r.DataQualityIssues...)
	out.ValidationErrors = append([]ValidationError{}, r.ValidationErrors...)
	out.Recommendations = append([]string{}, r.Recommendations...)
	out.ExtractedData = make(map[string]string, len(r.ExtractedData))
	for k, v := range r.ExtractedData {
		out.ExtractedData[k] = v
	}
	return out
}

// Request is what a Backend receives. DocumentText is already truncated.
// ClaimContext holds the claim's attributes, forwarded as-is.
type Request struct {
	DocumentText string
	ClaimType    string
	ProfileName  string
	Profile      string
	ClaimContext map[string]string
}

// Backend is one interchangeable inference implementation. Invoke must honor
// ctx cancellation and return a typed error rather than empty content.
type Backend interface {
	Name() string
	Invoke(ctx context.Context, req Request) (string, error)
}

// HealthChecker is implemented by backends that can check their remote service.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Input is one analysis call. ClaimContext may be nil for free text that
// does not belong to a claim.
type Input struct {
	DocumentText string
	ClaimType    string
	ClaimContext map[string]string
}

// Analyzer is satisfied by the Orchestrator.
type Analyzer interface {
	AnalyzeClaim(ctx context.Context, in Input) Result
}
