package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"competitor-research/internal/domain"
	"competitor-research/internal/domain/model"
	"competitor-research/internal/domain/ports/repository"
	"competitor-research/internal/infra/metrics"
	"competitor-research/internal/usecase"
)

// ViewSink receives the composed view on every poll. Implemented by the
// redis view cache; nil disables caching.
type ViewSink interface {
	Store(ctx context.Context, view usecase.JobView) error
	Delete(ctx context.Context, jobID string) error
}

// Releaser frees a pending recovery guard once the job visibly moves again.
// Implemented by the recovery dispatcher; nil disables the callback.
type Releaser interface {
	Release(ctx context.Context, jobID string)
}

type ObserverConfig struct {
	// PollFast is used while the job is still in the pre-scrape phases,
	// where status transitions come quickly.
	PollFast time.Duration
	// PollSlow takes over from the scraping phase on, where work is
	// long-running and frequent reads buy nothing.
	PollSlow time.Duration
}

func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{PollFast: 3 * time.Second, PollSlow: 10 * time.Second}
}

// watch is the per-job observer state: one goroutine polling the record,
// the latest composed view, and the subscriber channels it feeds.
type watch struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	view    usecase.JobView
	hasView bool
	subs    map[chan usecase.JobView]struct{}
}

func (w *watch) publish(view usecase.JobView) {
	w.mu.Lock()
	w.view = view
	w.hasView = true
	for ch := range w.subs {
		select {
		case ch <- view:
		default:
			// slow subscriber keeps its previous unread view
		}
	}
	w.mu.Unlock()
}

// PollingObserver tracks active research jobs by polling their records. One
// goroutine per attached job fetches the row, derives the stage vector, runs
// stall detection and publishes the result to subscribers, the view cache and
// metrics. The loop stops on its own once the job reaches a terminal status.
type PollingObserver struct {
	jobs       repository.ResearchJobRepository
	detector   *usecase.StallDetector
	cfg        ObserverConfig
	sink       ViewSink
	dispatcher Releaser
	clock      usecase.Clock
	log        *zerolog.Logger

	mu      sync.Mutex
	watches map[string]*watch
}

func NewPollingObserver(
	jobs repository.ResearchJobRepository,
	detector *usecase.StallDetector,
	cfg ObserverConfig,
	sink ViewSink,
	dispatcher Releaser,
	clock usecase.Clock,
	logger *zerolog.Logger,
) *PollingObserver {
	if cfg.PollFast <= 0 {
		cfg.PollFast = 3 * time.Second
	}
	if cfg.PollSlow <= 0 {
		cfg.PollSlow = 10 * time.Second
	}
	if clock == nil {
		clock = usecase.SystemClock()
	}
	return &PollingObserver{
		jobs:       jobs,
		detector:   detector,
		cfg:        cfg,
		sink:       sink,
		dispatcher: dispatcher,
		clock:      clock,
		log:        logger,
		watches:    make(map[string]*watch),
	}
}

// Attach starts observing a job. Attaching an already observed job is a
// no-op; the existing loop keeps running.
func (o *PollingObserver) Attach(ctx context.Context, jobID string) {
	o.mu.Lock()
	if _, ok := o.watches[jobID]; ok {
		o.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w := &watch{
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[chan usecase.JobView]struct{}),
	}
	o.watches[jobID] = w
	o.mu.Unlock()

	metrics.ObserverAttached()
	o.log.Info().Str("job_id", jobID).Msg("observer attached")
	go o.run(runCtx, jobID, w)
}

// Detach stops the loop for a job and waits for it to exit.
func (o *PollingObserver) Detach(jobID string) {
	o.mu.Lock()
	w, ok := o.watches[jobID]
	o.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

// Observing reports whether a loop is currently running for the job.
func (o *PollingObserver) Observing(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.watches[jobID]
	return ok
}

// Snapshot returns the latest published view for a job, if any.
func (o *PollingObserver) Snapshot(jobID string) (usecase.JobView, bool) {
	o.mu.Lock()
	w, ok := o.watches[jobID]
	o.mu.Unlock()
	if !ok {
		return usecase.JobView{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.view, w.hasView
}

// Subscribe returns a channel fed with each published view plus a cancel
// func. The channel holds at most one pending view; pending views are
// replaced, not queued.
func (o *PollingObserver) Subscribe(jobID string) (<-chan usecase.JobView, func(), bool) {
	o.mu.Lock()
	w, ok := o.watches[jobID]
	o.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	ch := make(chan usecase.JobView, 1)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	if w.hasView {
		ch <- w.view
	}
	w.mu.Unlock()
	cancel := func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
	}
	return ch, cancel, true
}

// Stop detaches every observed job. Used during shutdown.
func (o *PollingObserver) Stop() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.watches))
	for id := range o.watches {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.Detach(id)
	}
}

func (o *PollingObserver) remove(jobID string, w *watch) {
	o.mu.Lock()
	if cur, ok := o.watches[jobID]; ok && cur == w {
		delete(o.watches, jobID)
	}
	o.mu.Unlock()
	metrics.ObserverDetached(jobID)
}

func (o *PollingObserver) run(ctx context.Context, jobID string, w *watch) {
	defer close(w.done)
	defer o.remove(jobID, w)

	var (
		phaseStatus model.ResearchJobStatus
		phaseSeen   time.Time
		prev        usecase.JobView
		hasPrev     bool
		wasStalled  bool
		misses      int
	)

	// First fetch happens immediately so a freshly attached caller does not
	// wait a full interval for its view.
	interval := o.cfg.PollFast
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Debug().Str("job_id", jobID).Msg("observer detached")
			return
		case <-timer.C:
		}

		start := time.Now()
		job, err := o.jobs.FindByID(ctx, nil, jobID)
		metrics.ObservePoll(float64(time.Since(start).Milliseconds()))
		if err != nil {
			if err == domain.ErrNotFound {
				o.log.Warn().Str("job_id", jobID).Msg("observed job disappeared")
				return
			}
			// transient read failure; keep the loop alive for a while
			misses++
			o.log.Error().Err(err).Str("job_id", jobID).Int("misses", misses).Msg("poll failed")
			if misses >= 10 {
				return
			}
			timer.Reset(interval)
			continue
		}
		misses = 0

		now := o.clock.Now()
		if job.Status != phaseStatus {
			phaseStatus = job.Status
			phaseSeen = now
		}

		verdict := o.detector.Check(job, phaseSeen)
		view := usecase.ComposeView(job, verdict, now)

		if verdict.Stalled && !wasStalled {
			metrics.IncStall(verdict.Reason)
			o.log.Warn().Str("job_id", jobID).Str("reason", verdict.Reason).Msg("job stalled")
		}
		wasStalled = verdict.Stalled

		// Progress after a recovery dispatch means the engine took the
		// signal; free the guard so a later stall can be recovered again.
		if o.dispatcher != nil && hasPrev && progressed(prev, view) {
			o.dispatcher.Release(ctx, jobID)
		}

		w.publish(view)
		metrics.SetStageIndex(jobID, view.Stages.CurrentIndex)
		if o.sink != nil {
			if err := o.sink.Store(ctx, view); err != nil {
				o.log.Warn().Err(err).Str("job_id", jobID).Msg("view cache store failed")
			}
		}
		prev, hasPrev = view, true

		if job.Status.Terminal() {
			metrics.IncJobFinished(string(job.Status))
			if o.dispatcher != nil {
				o.dispatcher.Release(ctx, jobID)
			}
			// terminal records read cheaply from the store; drop the
			// cache entry rather than let it serve the final view stale
			if o.sink != nil {
				if err := o.sink.Delete(ctx, jobID); err != nil {
					o.log.Warn().Err(err).Str("job_id", jobID).Msg("view cache delete failed")
				}
			}
			o.log.Info().
				Str("job_id", jobID).
				Str("status", string(job.Status)).
				Dur("elapsed", view.Elapsed).
				Msg("job finished, observer stopping")
			return
		}

		// Scraping and everything after it is slow-moving work.
		if job.Status.Rank() >= model.JobStatusScraping.Rank() {
			interval = o.cfg.PollSlow
		} else {
			interval = o.cfg.PollFast
		}
		timer.Reset(interval)
	}
}

// progressed reports whether the record visibly advanced between two views.
func progressed(prev, cur usecase.JobView) bool {
	if cur.Job.Status != prev.Job.Status {
		return true
	}
	return cur.Counters != prev.Counters
}
