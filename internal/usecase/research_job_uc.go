package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"competitor-research/internal/domain"
	"competitor-research/internal/domain/model"
	"competitor-research/internal/domain/ports/adapter"
	"competitor-research/internal/domain/ports/repository"
	"competitor-research/internal/infra/logging"
)

// Compile-time check
var _ ResearchJobUseCase = (*researchJobUC)(nil)

type CreateJobInput struct {
	WorkspaceID   string
	NicheQuery    string
	ServiceArea   string
	TargetCount   int
	SearchQueries []string
}

type ResearchJobUseCase interface {
	Create(ctx context.Context, in CreateJobInput) (*model.ResearchJob, error)
	Cancel(ctx context.Context, jobID, reason string) error
	// Resume returns the workspace's most recent job if it is still
	// active, so a reloaded client re-attaches instead of creating a
	// duplicate run. ErrNotFound when there is nothing to re-attach to.
	Resume(ctx context.Context, workspaceID string) (*model.ResearchJob, error)
	Get(ctx context.Context, jobID string) (*model.ResearchJob, error)
}

type researchJobUC struct {
	jobs   repository.ResearchJobRepository
	engine adapter.WorkflowEngineAdapter
	clock  Clock
	log    *zerolog.Logger
}

func NewResearchJobUseCase(jobs repository.ResearchJobRepository, engine adapter.WorkflowEngineAdapter, clock Clock, logger *zerolog.Logger) *researchJobUC {
	if clock == nil {
		clock = SystemClock()
	}
	return &researchJobUC{jobs: jobs, engine: engine, clock: clock, log: logger}
}

func (u *researchJobUC) Create(ctx context.Context, in CreateJobInput) (*model.ResearchJob, error) {
	defer logging.TraceDuration(logging.With(ctx, u.log), "ResearchJobUC.Create")()
	if strings.TrimSpace(in.WorkspaceID) == "" {
		return nil, fmt.Errorf("%w: workspace_id is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.NicheQuery) == "" {
		return nil, fmt.Errorf("%w: niche_query is required", domain.ErrInvalidArgument)
	}
	if !model.ValidTargetTier(in.TargetCount) {
		return nil, fmt.Errorf("%w: target_count must be one of %v", domain.ErrInvalidArgument, model.TargetTiers)
	}

	now := u.clock.Now()
	job := &model.ResearchJob{
		ID:            ulid.Make().String(),
		WorkspaceID:   in.WorkspaceID,
		Status:        model.JobStatusQueued,
		NicheQuery:    strings.TrimSpace(in.NicheQuery),
		ServiceArea:   strings.TrimSpace(in.ServiceArea),
		TargetCount:   in.TargetCount,
		SearchQueries: in.SearchQueries,
		HeartbeatAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := u.jobs.Save(ctx, nil, job); err != nil {
		return nil, err
	}

	// The engine owns discovery; the record alone is the contract. A failed
	// start signal is not fatal here, the engine also picks up queued rows.
	if err := u.engine.StartResearch(ctx, job); err != nil {
		u.log.Warn().Err(err).Str("job_id", job.ID).Msg("start signal to workflow engine failed; job stays queued")
	}
	return job, nil
}

func (u *researchJobUC) Cancel(ctx context.Context, jobID, reason string) error {
	defer logging.TraceDuration(logging.With(ctx, u.log), "ResearchJobUC.Cancel")()
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by user"
	}
	// Cancellation only stops further progression from being honored; work
	// the engine already dispatched is not preempted. The engine checks
	// status before every phase and drops the job on its own.
	if err := u.jobs.MarkCancelled(ctx, nil, jobID, reason, u.clock.Now()); err != nil {
		return err
	}
	u.log.Info().Str("job_id", jobID).Str("reason", reason).Msg("research job cancelled")
	return nil
}

func (u *researchJobUC) Resume(ctx context.Context, workspaceID string) (*model.ResearchJob, error) {
	defer logging.TraceDuration(logging.With(ctx, u.log), "ResearchJobUC.Resume")()
	if strings.TrimSpace(workspaceID) == "" {
		return nil, fmt.Errorf("%w: workspace id is required", domain.ErrInvalidArgument)
	}
	job, err := u.jobs.FindLatestByWorkspace(ctx, nil, workspaceID)
	if err != nil {
		return nil, err
	}
	if !job.Active() {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (u *researchJobUC) Get(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	return u.jobs.FindByID(ctx, nil, jobID)
}
