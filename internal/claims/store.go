package claims

import (
	"context"
	"time"
)

// Store is the record store the lifecycle and service layer depend on.
// Every call is keyed by claim ID.
type Store interface {
	CreateClaim(ctx context.Context, c Claim) error
	GetClaim(ctx context.Context, id string) (Claim, error)
	ListClaims(ctx context.Context, f ListFilter) ([]Claim, error)

	// UpdateStatus is a compare-and-swap on the stored status.
	UpdateStatus(ctx context.Context, id string, newStatus, expected Status, at time.Time) error
	AppendTransition(ctx context.Context, t StatusTransition) (StatusTransition, error)
	// ApplyTransition performs UpdateStatus and AppendTransition atomically.
	ApplyTransition(ctx context.Context, t StatusTransition) (StatusTransition, error)
	ListTransitions(ctx context.Context, claimID string) ([]StatusTransition, error)

	AddDocument(ctx context.Context, d Document) error
	LatestDocument(ctx context.Context, claimID string) (Document, error)
	ListDocuments(ctx context.Context, claimID string) ([]Document, error)

	AppendAnalysisResult(ctx context.Context, r AnalysisRecord) error
	ListAnalysisResults(ctx context.Context, claimID string) ([]AnalysisRecord, error)

	Close() error
}

// nextTimestamp keeps transition timestamps strictly increasing per claim.
func nextTimestamp(prev, at time.Time) time.Time {
	at = at.UTC().Truncate(time.Microsecond)
	if !prev.IsZero() && !at.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return at
}
