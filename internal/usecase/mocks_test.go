package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"competitor-research/internal/domain"
	"competitor-research/internal/domain/model"
	"competitor-research/internal/domain/ports/repository"
)

// memJobRepo is a small in-memory implementation used by unit tests. It
// enforces the same one-active-job-per-workspace rule as the partial unique
// index in Postgres.
type memJobRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.ResearchJob
	saveErr error // used by tests to simulate save failures
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.ResearchJob)}
}

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ResearchJob) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.store[job.ID]; !exists && job.Active() {
		for _, j := range m.store {
			if j.WorkspaceID == job.WorkspaceID && j.Active() {
				return domain.ErrActiveJobExists
			}
		}
	}
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ResearchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) FindLatestByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string) (*model.ResearchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var jobs []*model.ResearchJob
	for _, j := range m.store {
		if j.WorkspaceID == workspaceID {
			jobs = append(jobs, j)
		}
	}
	if len(jobs) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	cp := *jobs[0]
	return &cp, nil
}

func (m *memJobRepo) MarkCancelled(ctx context.Context, tx repository.Tx, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	j.Status = model.JobStatusCancelled
	j.ErrorMessage = reason
	j.CompletedAt = &at
	j.HeartbeatAt = at
	j.UpdatedAt = at
	return nil
}

func (m *memJobRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.ResearchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ResearchJob
	for _, j := range m.store {
		if j.Active() {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// put inserts a job bypassing the active-uniqueness check, standing in for
// the external engine writing directly to the store.
func (m *memJobRepo) put(job *model.ResearchJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
}

// fakeEngine records signals and can fail on demand.
type fakeEngine struct {
	mu        sync.Mutex
	started   []string
	resumed   []string
	startErr  error
	resumeErr error
}

func (f *fakeEngine) StartResearch(ctx context.Context, job *model.ResearchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, job.ID)
	return nil
}

func (f *fakeEngine) Resume(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumed = append(f.resumed, jobID)
	return nil
}

func (f *fakeEngine) resumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resumed)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeLocker mimics the redis SetNX lock.
type fakeLocker struct {
	mu           sync.Mutex
	held         map[string]string
	fail         bool
	transportErr error // simulates the locker backend being unreachable
	locks        int
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]string)} }

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transportErr != nil {
		return "", l.transportErr
	}
	if l.fail {
		return "", domain.ErrRecoveryInFlight
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrRecoveryInFlight
	}
	token := key + "-token"
	l.held[key] = token
	l.locks++
	return token, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// activeJob builds a minimal job record in the given phase.
func activeJob(id, workspace string, status model.ResearchJobStatus, at time.Time) *model.ResearchJob {
	return &model.ResearchJob{
		ID:          id,
		WorkspaceID: workspace,
		Status:      status,
		NicheQuery:  "plumbers",
		TargetCount: 100,
		HeartbeatAt: at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}
