package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/researchmesh/core"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("report not found")

// InMemoryStore is a volatile core.ReportStore. It keeps at most capacity
// reports and evicts the least recently used one when full. It is safe for
// concurrent access; returned reports are copies.
type InMemoryStore struct {
	mu      sync.Mutex
	reports *lru.Cache[string, core.FinalReport]
}

var _ core.ReportStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory report store.
func NewInMemoryStore(capacity int) (*InMemoryStore, error) {
	cache, err := lru.New[string, core.FinalReport](capacity)
	if err != nil {
		return nil, fmt.Errorf("report store: %w", err)
	}
	return &InMemoryStore{reports: cache}, nil
}

// Save stores a snapshot of report under its run ID, replacing any earlier one.
func (s *InMemoryStore) Save(report core.FinalReport) error {
	if report.RunID == "" {
		return errors.New("report store: run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports.Add(report.RunID, clone(report))
	return nil
}

// Get returns the report of runID or ErrNotFound.
func (s *InMemoryStore) Get(runID string) (core.FinalReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports.Get(runID)
	if !ok {
		return core.FinalReport{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return clone(r), nil
}

// List returns the stored run IDs, oldest first.
func (s *InMemoryStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports.Keys()
}

func clone(r core.FinalReport) core.FinalReport {
	r.ArtifactPaths = slices.Clone(r.ArtifactPaths)
	r.Warnings = slices.Clone(r.Warnings)
	r.Transcript = slices.Clone(r.Transcript)
	return r
}
