package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"competitor-research/internal/domain"
	"competitor-research/internal/domain/ports/adapter"
	"competitor-research/internal/domain/ports/repository"
	"competitor-research/internal/infra/logging"
)

// RecoveryLocker is the cross-instance guard. Implemented by the redis
// locker; nil disables the distributed half and leaves only the in-process
// guard (fine for a single replica).
type RecoveryLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RecoveryDispatcher re-signals the workflow engine for a stalled job. It
// guarantees at most one outstanding recovery per job from this process, and
// with a locker, across reloads and replicas too. It never mutates the job
// record; the engine resumes work against the existing row.
type RecoveryDispatcher struct {
	jobs    repository.ResearchJobRepository
	engine  adapter.WorkflowEngineAdapter
	locker  RecoveryLocker
	lockTTL time.Duration
	log     *zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]string // job id -> lock token ("" without locker)
}

func NewRecoveryDispatcher(jobs repository.ResearchJobRepository, engine adapter.WorkflowEngineAdapter, locker RecoveryLocker, lockTTL time.Duration, logger *zerolog.Logger) *RecoveryDispatcher {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &RecoveryDispatcher{
		jobs:     jobs,
		engine:   engine,
		locker:   locker,
		lockTTL:  lockTTL,
		log:      logger,
		inFlight: make(map[string]string),
	}
}

func recoveryLockKey(jobID string) string { return "research:recover:" + jobID }

// Recover dispatches one resume signal for the job. Repeat calls while a
// dispatch is outstanding return ErrRecoveryInFlight; a failed dispatch
// releases the guard so the user can retry immediately.
func (d *RecoveryDispatcher) Recover(ctx context.Context, jobID string) error {
	defer logging.TraceDuration(logging.With(ctx, d.log), "RecoveryDispatcher.Recover")()
	job, err := d.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return domain.ErrJobTerminal
	}

	d.mu.Lock()
	if _, busy := d.inFlight[jobID]; busy {
		d.mu.Unlock()
		return domain.ErrRecoveryInFlight
	}
	d.inFlight[jobID] = ""
	d.mu.Unlock()

	token := ""
	if d.locker != nil {
		token, err = d.locker.TryLock(ctx, recoveryLockKey(jobID), d.lockTTL)
		if err != nil {
			d.clear(jobID)
			if errors.Is(err, domain.ErrRecoveryInFlight) {
				return domain.ErrRecoveryInFlight
			}
			// a lock held elsewhere means a recovery is outstanding; a
			// locker transport failure is a failed dispatch, not a held lock
			d.log.Error().Err(err).Str("job_id", jobID).Msg("recovery lock attempt failed")
			return fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
		}
		d.mu.Lock()
		d.inFlight[jobID] = token
		d.mu.Unlock()
	}

	if err := d.engine.Resume(ctx, jobID); err != nil {
		d.release(ctx, jobID, token)
		d.log.Error().Err(err).Str("job_id", jobID).Msg("recovery dispatch failed")
		return fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	d.log.Info().Str("job_id", jobID).Msg("recovery signal dispatched")
	return nil
}

// Release frees the guard, called by the observer once the job visibly moves
// again or terminates. Without it, the lock TTL is the backstop.
func (d *RecoveryDispatcher) Release(ctx context.Context, jobID string) {
	d.mu.Lock()
	token, ok := d.inFlight[jobID]
	d.mu.Unlock()
	if !ok {
		return
	}
	d.release(ctx, jobID, token)
}

// InFlight reports whether a recovery is outstanding for the job.
func (d *RecoveryDispatcher) InFlight(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[jobID]
	return ok
}

func (d *RecoveryDispatcher) clear(jobID string) {
	d.mu.Lock()
	delete(d.inFlight, jobID)
	d.mu.Unlock()
}

func (d *RecoveryDispatcher) release(ctx context.Context, jobID, token string) {
	if d.locker != nil && token != "" {
		if err := d.locker.Unlock(ctx, recoveryLockKey(jobID), token); err != nil {
			d.log.Warn().Err(err).Str("job_id", jobID).Msg("recovery lock release failed; TTL will expire it")
		}
	}
	d.clear(jobID)
}
