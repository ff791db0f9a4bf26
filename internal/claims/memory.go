package claims

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every record in process memory.
type MemoryStore struct {
	mu          sync.Mutex
	claims      map[string]Claim
	transitions map[string][]StatusTransition
	documents   map[string][]Document
	analyses    map[string][]AnalysisRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:      map[string]Claim{},
		transitions: map[string][]StatusTransition{},
		documents:   map[string][]Document{},
		analyses:    map[string][]AnalysisRecord{},
	}
}

func (s *MemoryStore) CreateClaim(_ context.Context, c Claim) error {
	if c.ID == "" {
		return NewValidationError("claim id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[c.ID]; ok {
		return conflict("claim %s already exists", c.ID)
	}
	s.claims[c.ID] = cloneClaim(c)
	return nil
}

func (s *MemoryStore) GetClaim(_ context.Context, id string) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return Claim{}, NewNotFoundError("claim %s not found", id)
	}
	return cloneClaim(c), nil
}

func (s *MemoryStore) ListClaims(_ context.Context, f ListFilter) ([]Claim, error) {
	s.mu.Lock()
	out := make([]Claim, 0, len(s.claims))
	for _, c := range s.claims {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, cloneClaim(c))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, newStatus, expected Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casLocked(id, newStatus, expected, at)
}

func (s *MemoryStore) casLocked(id string, newStatus, expected Status, at time.Time) error {
	c, ok := s.claims[id]
	if !ok {
		return NewNotFoundError("claim %s not found", id)
	}
	if c.Status != expected {
		return conflict("claim %s status is %s, expected %s", id, c.Status, expected)
	}
	c.Status = newStatus
	c.UpdatedAt = at.UTC()
	s.claims[id] = c
	return nil
}

func (s *MemoryStore) AppendTransition(_ context.Context, t StatusTransition) (StatusTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[t.ClaimID]; !ok {
		return StatusTransition{}, NewNotFoundError("claim %s not found", t.ClaimID)
	}
	return s.appendLocked(t), nil
}

func (s *MemoryStore) appendLocked(t StatusTransition) StatusTransition {
	list := s.transitions[t.ClaimID]
	var prev time.Time
	if len(list) > 0 {
		prev = list[len(list)-1].CreatedAt
	}
	t.CreatedAt = nextTimestamp(prev, t.CreatedAt)
	s.transitions[t.ClaimID] = append(list, t)
	return t
}

func (s *MemoryStore) ApplyTransition(_ context.Context, t StatusTransition) (StatusTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.casLocked(t.ClaimID, t.ToStatus, t.FromStatus, t.CreatedAt); err != nil {
		return StatusTransition{}, err
	}
	rec := s.appendLocked(t)
	c := s.claims[t.ClaimID]
	c.UpdatedAt = rec.CreatedAt
	s.claims[t.ClaimID] = c
	return rec, nil
}

func (s *MemoryStore) ListTransitions(_ context.Context, claimID string) ([]StatusTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[claimID]; !ok {
		return nil, NewNotFoundError("claim %s not found", claimID)
	}
	return append([]StatusTransition{}, s.transitions[claimID]...), nil
}

func (s *MemoryStore) AddDocument(_ context.Context, d Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[d.ClaimID]; !ok {
		return NewNotFoundError("claim %s not found", d.ClaimID)
	}
	s.documents[d.ClaimID] = append(s.documents[d.ClaimID], d)
	return nil
}

func (s *MemoryStore) LatestDocument(_ context.Context, claimID string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.documents[claimID]
	if len(docs) == 0 {
		return Document{}, NewNotFoundError("claim %s has no documents", claimID)
	}
	return docs[len(docs)-1], nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, claimID string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Document{}, s.documents[claimID]...), nil
}

func (s *MemoryStore) AppendAnalysisResult(_ context.Context, r AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[r.ClaimID]; !ok {
		return NewNotFoundError("claim %s not found", r.ClaimID)
	}
	r.Result = r.Result.Clone()
	s.analyses[r.ClaimID] = append(s.analyses[r.ClaimID], r)
	return nil
}

func (s *MemoryStore) ListAnalysisResults(_ context.Context, claimID string) ([]AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AnalysisRecord, 0, len(s.analyses[claimID]))
	for _, r := range s.analyses[claimID] {
		r.Result = r.Result.Clone()
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneClaim(c Claim) Claim {
	attrs := make(map[string]string, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	c.Attributes = attrs
	return c
}
