package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"competitor-research/internal/domain/ports/repository"
	"competitor-research/internal/infra/worker"
	"competitor-research/internal/usecase"
)

// StaleSweeper periodically lists the active jobs and makes sure each one has
// a polling observer. After a process restart the in-memory observer set is
// empty while the rows are not; the sweeper closes that gap. It also logs any
// job already stalled at sweep time so stalls surface even with nobody
// watching the API.
type StaleSweeper struct {
	interval time.Duration
	jobs     repository.ResearchJobRepository
	observer *worker.PollingObserver
	detector *usecase.StallDetector
	pool     *worker.Pool
	clock    usecase.Clock
	log      *zerolog.Logger
}

func NewStaleSweeper(
	interval time.Duration,
	jobs repository.ResearchJobRepository,
	observer *worker.PollingObserver,
	detector *usecase.StallDetector,
	pool *worker.Pool,
	clock usecase.Clock,
	logger *zerolog.Logger,
) *StaleSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if clock == nil {
		clock = usecase.SystemClock()
	}
	swpLog := logger.With().Str("component", "StaleSweeper").Logger()
	return &StaleSweeper{
		interval: interval,
		jobs:     jobs,
		observer: observer,
		detector: detector,
		pool:     pool,
		clock:    clock,
		log:      &swpLog,
	}
}

func (w *StaleSweeper) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting stale sweeper")

	// First sweep runs immediately so observers come back right after boot.
	if n, err := w.sweep(ctx); err != nil {
		w.log.Error().Err(err).Msg("initial sweep failed")
	} else if n > 0 {
		w.log.Info().Int("attached", n).Msg("observers re-attached on startup")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale sweeper")
			return ctx.Err()
		case <-ticker.C:
			if n, err := w.sweep(ctx); err != nil {
				w.log.Error().Err(err).Msg("sweep failed")
			} else if n > 0 {
				w.log.Info().Int("attached", n).Msg("observers attached by sweep")
			}
		}
	}
}

// sweep attaches an observer for every active job that lacks one. Returns how
// many observers it attached.
func (w *StaleSweeper) sweep(ctx context.Context) (int, error) {
	active, err := w.jobs.ListActive(ctx, nil)
	if err != nil {
		return 0, err
	}

	attached := 0
	now := w.clock.Now()
	for _, job := range active {
		if w.observer.Observing(job.ID) {
			continue
		}
		attached++
		id := job.ID

		// The sweeper cannot know when this process first saw the phase, so
		// the phase-local window restarts at sweep time and only heartbeat
		// staleness can flag a stall here. The observer it attaches takes
		// over phase-entry tracking from its first tick.
		verdict := w.detector.Check(job, now)
		if verdict.Stalled {
			w.log.Warn().
				Str("job_id", id).
				Str("workspace_id", job.WorkspaceID).
				Str("status", string(job.Status)).
				Str("reason", verdict.Reason).
				Msg("active job already stalled at sweep")
		}

		task := func(taskCtx context.Context) error {
			w.observer.Attach(taskCtx, id)
			return nil
		}
		if err := w.pool.Submit(task); err != nil {
			// pool saturated; attach inline rather than skip the job
			w.observer.Attach(ctx, id)
		}
	}
	return attached, nil
}
