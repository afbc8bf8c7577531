package memory

import (
	"context"
	"sort"
	"sync"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// CandidateStore is an in-memory implementation of storage.CandidateStore.
type CandidateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candidate // keyed by candidate_id
}

// NewCandidateStore creates a new in-memory candidate store.
func NewCandidateStore() *CandidateStore {
	return &CandidateStore{
		data: make(map[string]*domain.Candidate),
	}
}

// Insert adds a new candidate. Returns ErrDuplicateKey if candidate_id exists.
func (s *CandidateStore) Insert(_ context.Context, c *domain.Candidate) error {
	if c == nil || c.CandidateID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.CandidateID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[c.CandidateID] = cloneCandidate(c)
	return nil
}

// GetByID retrieves a candidate. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByID(_ context.Context, candidateID string) (*domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[candidateID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneCandidate(c), nil
}

// GetBySnapshotID retrieves all candidates referencing a scenario.
func (s *CandidateStore) GetBySnapshotID(_ context.Context, snapshotID string) ([]*domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candidate
	for _, c := range s.data {
		if c.SnapshotID == snapshotID {
			result = append(result, cloneCandidate(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})

	return result, nil
}

// GetPool retrieves candidates in ACTIVE or WAITING_FOR_SLOT status,
// ordered by score DESC.
func (s *CandidateStore) GetPool(_ context.Context) ([]*domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candidate
	for _, c := range s.data {
		if c.Status == domain.CandidateActive || c.Status == domain.CandidateWaiting {
			result = append(result, cloneCandidate(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].CandidateID < result[j].CandidateID
	})

	return result, nil
}

// GetRejectedSince retrieves rejected candidates updated at or after ts.
func (s *CandidateStore) GetRejectedSince(_ context.Context, ts int64) ([]*domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candidate
	for _, c := range s.data {
		if c.Status == domain.CandidateRejected && c.UpdatedAt >= ts {
			result = append(result, cloneCandidate(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt < result[j].UpdatedAt
	})

	return result, nil
}

// Update replaces the stored candidate. Returns ErrNotFound if not exists.
func (s *CandidateStore) Update(_ context.Context, c *domain.Candidate) error {
	if c == nil || c.CandidateID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.CandidateID]; !exists {
		return storage.ErrNotFound
	}

	s.data[c.CandidateID] = cloneCandidate(c)
	return nil
}

func cloneCandidate(c *domain.Candidate) *domain.Candidate {
	cp := *c
	if c.CounterfactualR != nil {
		v := *c.CounterfactualR
		cp.CounterfactualR = &v
	}
	return &cp
}

var _ storage.CandidateStore = (*CandidateStore)(nil)
