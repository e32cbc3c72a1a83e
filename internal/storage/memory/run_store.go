// Package memory keeps pipeline run metadata in process.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// RunStore provides an in-memory etl.RunStore. Once more than limit runs are held,
// the oldest finished runs are evicted.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]etl.Run
	order []string
	clock etl.Clock
	limit int
}

// NewRunStore constructs a RunStore. A limit <= 0 keeps every run.
func NewRunStore(clock etl.Clock, limit int) *RunStore {
	return &RunStore{
		runs:  make(map[string]etl.Run),
		clock: clock,
		limit: limit,
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run etl.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	if run.Status == "" {
		run.Status = etl.RunStatusQueued
	}
	if run.Submitted.IsZero() {
		run.Submitted = s.now()
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.evict()
	return nil
}

// UpdateRun sets status, error text and summary, stamping start and finish times.
func (s *RunStore) UpdateRun(
	_ context.Context,
	runID string,
	status etl.RunStatus,
	errText string,
	summary etl.RunSummary,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return etl.ErrRunNotFound
	}
	run.Status = status
	run.ErrorText = errText
	run.Summary = summary
	now := s.now()
	if status == etl.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (etl.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return etl.Run{}, etl.ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns every held run, newest first.
func (s *RunStore) ListRuns(_ context.Context) ([]etl.Run, error) {
	s.mu.RLock()
	out := make([]etl.Run, 0, len(s.runs))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	s.mu.RUnlock()
	etl.SortRunsNewestFirst(out)
	return out, nil
}

func (s *RunStore) evict() {
	if s.limit <= 0 {
		return
	}
	for i := 0; len(s.order) > s.limit && i < len(s.order); {
		id := s.order[i]
		if !s.runs[id].Status.Terminal() {
			i++
			continue
		}
		delete(s.runs, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

func (s *RunStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
