package engine

import (
	"context"
	"sync"

	"competitor-research/internal/domain/model"
	"competitor-research/internal/domain/ports/adapter"
)

var _ adapter.WorkflowEngineAdapter = (*NoopEngine)(nil)

// NoopEngine is an in-memory engine for dev mode and tests. It records the
// signals it receives and advances nothing; pair it with manual writes to
// the job record to exercise the observer locally.
type NoopEngine struct {
	mu      sync.Mutex
	started []string
	resumed []string
}

func NewNoopEngine() *NoopEngine { return &NoopEngine{} }

func (e *NoopEngine) StartResearch(ctx context.Context, job *model.ResearchJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, job.ID)
	return nil
}

func (e *NoopEngine) Resume(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumed = append(e.resumed, jobID)
	return nil
}

// Started returns the job ids that received a start signal.
func (e *NoopEngine) Started() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.started...)
}

// Resumed returns the job ids that received a resume signal.
func (e *NoopEngine) Resumed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.resumed...)
}
