package repository

import (
	"context"
	"time"

	"competitor-research/internal/domain/model"
)

// ResearchJobRepository is the durable store for research job records.
// The external workflow engine writes phase/counter updates directly to the
// same rows; this port only covers the reads and the narrow writes the
// controller owns.
type ResearchJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.ResearchJob) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ResearchJob, error)
	// FindLatestByWorkspace returns the most recently created job for a
	// workspace regardless of its status, or ErrNotFound.
	FindLatestByWorkspace(ctx context.Context, tx Tx, workspaceID string) (*model.ResearchJob, error)
	// MarkCancelled flips a job to cancelled iff it is still non-terminal.
	// Returns ErrJobTerminal when the job had already finished and
	// ErrNotFound when it does not exist. The heartbeat is stamped so
	// observers see the cancelled record as fresh, not stale.
	MarkCancelled(ctx context.Context, tx Tx, id, reason string, at time.Time) error
	// ListActive returns all non-terminal jobs, oldest first. Used by the
	// sweeper to re-attach observers after a restart.
	ListActive(ctx context.Context, tx Tx) ([]*model.ResearchJob, error)
}
