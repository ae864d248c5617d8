package adapter

import (
	"context"

	"competitor-research/internal/domain/model"
)

// WorkflowEngineAdapter is the signalling surface toward the external engine
// that actually runs discovery, scraping and extraction. Both calls are
// fire-and-forget: the engine reads the job record itself and the only
// result reported here is whether the dispatch was accepted.
//
// The engine is expected to re-check the record's status before doing any
// further work, so cancellation never needs a signal of its own.
type WorkflowEngineAdapter interface {
	// StartResearch asks the engine to begin discovery for a freshly
	// created job record.
	StartResearch(ctx context.Context, job *model.ResearchJob) error
	// Resume asks the engine to re-poll an existing record and continue
	// from whatever phase it is in. Safe to call repeatedly.
	Resume(ctx context.Context, jobID string) error
}
