package claims

import (
	"strings"
	"time"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
)

type Status string

const (
	StatusOpen               Status = "open"
	StatusValidationComplete Status = "validation_complete"
	StatusVerified           Status = "verified"
	StatusApproved           Status = "approved"
	StatusDenied             Status = "denied"
	StatusNeedMoreInfo       Status = "need_more_info"
)

// ActorAI is the changed_by value reserved for system-originated transitions.
const ActorAI = "ai"

var allStatuses = []Status{
	StatusOpen,
	StatusValidationComplete,
	StatusVerified,
	StatusApproved,
	StatusDenied,
	StatusNeedMoreInfo,
}

func ParseStatus(s string) (Status, bool) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if st == v {
			return st, true
		}
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// Claim attributes are forwarded to analysis as context and otherwise opaque.
type Claim struct {
	ID         string            `json:"id"`
	ClaimType  string            `json:"claim_type"`
	Attributes map[string]string `json:"attributes"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type Document struct {
	ID               string    `json:"id"`
	ClaimID          string    `json:"claim_id"`
	Filename         string    `json:"filename"`
	MediaType        string    `json:"media_type"`
	SizeBytes        int64     `json:"size_bytes"`
	Text             string    `json:"text"`
	ExtractionMethod string    `json:"extraction_method"`
	OCRRequired      bool      `json:"ocr_required"`
	CreatedAt        time.Time `json:"created_at"`
}

// StatusTransition is an immutable audit record.
type StatusTransition struct {
	ID          string    `json:"id"`
	ClaimID     string    `json:"claim_id"`
	FromStatus  Status    `json:"from_status"`
	ToStatus    Status    `json:"to_status"`
	ChangedBy   string    `json:"changed_by"`
	Reason      string    `json:"reason"`
	Notes       string    `json:"notes"`
	AISuggested bool      `json:"ai_suggested"`
	CreatedAt   time.Time `json:"created_at"`
}

type AnalysisRecord struct {
	ID         string          `json:"id"`
	ClaimID    string          `json:"claim_id"`
	DocumentID string          `json:"document_id,omitempty"`
	Result     analysis.Result `json:"result"`
	CreatedAt  time.Time       `json:"created_at"`
}

type ListFilter struct {
	Status Status
	Limit  int
}
