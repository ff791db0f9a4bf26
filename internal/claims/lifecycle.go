package claims

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
)

type LifecycleConfig struct {
	Store Store
	Clock func() time.Time
	NewID func() string
}

// Lifecycle is the claim state machine. It raises only InvalidTransition and
// Conflict; store errors such as NotFound pass through unchanged.
type Lifecycle struct {
	store Store
	clock func() time.Time
	newID func() string
}

func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	l := &Lifecycle{store: cfg.Store, clock: cfg.Clock, newID: cfg.NewID}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.newID == nil {
		l.newID = uuid.NewString
	}
	return l
}

// Submit creates a claim in the open state.
func (l *Lifecycle) Submit(ctx context.Context, claimType string, attrs map[string]string) (Claim, error) {
	now := l.clock().UTC()
	c := Claim{
		ID:         l.newID(),
		ClaimType:  strings.TrimSpace(claimType),
		Attributes: attrs,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.Attributes == nil {
		c.Attributes = map[string]string{}
	}
	if err := l.store.CreateClaim(ctx, c); err != nil {
		return Claim{}, err
	}
	return c, nil
}

type TransitionRequest struct {
	ClaimID   string
	From      Status
	To        Status
	ChangedBy string
	Reason    string
	Notes     string
}

// Transition applies a human-issued status change. From must equal the
// stored status; the write is a compare-and-swap on it. A legal edge from a
// stale From is a Conflict, an illegal edge is an InvalidTransition.
func (l *Lifecycle) Transition(ctx context.Context, req TransitionRequest) (StatusTransition, error) {
	changedBy := strings.TrimSpace(req.ChangedBy)
	if changedBy == "" {
		return StatusTransition{}, invalidTransition("changed_by is required for human transitions")
	}
	if isAIActor(changedBy) {
		return StatusTransition{}, invalidTransition("changed_by %q is reserved for AI-suggested transitions", ActorAI)
	}
	return l.apply(ctx, req.ClaimID, req.From, req.To, changedBy, req.Reason, req.Notes, false)
}

// SetStatus is the set-status command. An empty expected status means the
// claim's current status is used as the from side.
func (l *Lifecycle) SetStatus(ctx context.Context, claimID string, to, expected Status, changedBy, reason, notes string) (StatusTransition, error) {
	from := expected
	if from == "" {
		c, err := l.store.GetClaim(ctx, claimID)
		if err != nil {
			return StatusTransition{}, err
		}
		from = c.Status
	}
	return l.Transition(ctx, TransitionRequest{
		ClaimID:   claimID,
		From:      from,
		To:        to,
		ChangedBy: changedBy,
		Reason:    reason,
		Notes:     notes,
	})
}

// AITransition is the only path that records changed_by "ai". It accepts
// nothing but open -> validation_complete backed by a decision result.
func (l *Lifecycle) AITransition(ctx context.Context, claimID string, to Status, result analysis.Result) (StatusTransition, error) {
	if !result.Status.IsDecision() {
		return StatusTransition{}, invalidTransition("analysis status %s is not a decision", result.Status)
	}
	if err := CheckTransition(StatusOpen, to, true); err != nil {
		return StatusTransition{}, err
	}
	reason := fmt.Sprintf("AI analysis completed: %s", result.Status)
	notes := fmt.Sprintf("confidence=%d completeness=%d method=%s", result.ConfidenceLevel, result.CompletenessScore, result.ProcessingMethod)
	if result.TraceID != "" {
		notes += " trace_id=" + result.TraceID
	}
	return l.apply(ctx, claimID, StatusOpen, to, ActorAI, reason, notes, true)
}

// ApplyAISuggestion moves an open claim to validation_complete.
func (l *Lifecycle) ApplyAISuggestion(ctx context.Context, claimID string, result analysis.Result) (StatusTransition, error) {
	return l.AITransition(ctx, claimID, StatusValidationComplete, result)
}

func (l *Lifecycle) History(ctx context.Context, claimID string) ([]StatusTransition, error) {
	return l.store.ListTransitions(ctx, claimID)
}

func (l *Lifecycle) apply(ctx context.Context, claimID string, from, to Status, changedBy, reason, notes string, ai bool) (StatusTransition, error) {
	if _, ok := ParseStatus(string(to)); !ok {
		return StatusTransition{}, invalidTransition("unknown target status %q", to)
	}
	c, err := l.store.GetClaim(ctx, claimID)
	if err != nil {
		return StatusTransition{}, err
	}
	if err := CheckTransition(from, to, ai); err != nil {
		return StatusTransition{}, err
	}
	if c.Status != from {
		// A legal edge from a status the claim has already left means the
		// caller raced another writer. The AI path has no caller to retry.
		if ai {
			return StatusTransition{}, invalidTransition("claim %s is %s, not %s", claimID, c.Status, from)
		}
		return StatusTransition{}, conflict("claim %s is %s, not %s; re-read and retry", claimID, c.Status, from)
	}
	rec, err := l.store.ApplyTransition(ctx, StatusTransition{
		ID:          l.newID(),
		ClaimID:     claimID,
		FromStatus:  from,
		ToStatus:    to,
		ChangedBy:   changedBy,
		Reason:      reason,
		Notes:       notes,
		AISuggested: ai,
		CreatedAt:   l.clock().UTC(),
	})
	if err != nil {
		return StatusTransition{}, err
	}
	log.Printf("claim transition claim_id=%s from=%s to=%s changed_by=%s ai_suggested=%t", claimID, from, to, changedBy, ai)
	return rec, nil
}
