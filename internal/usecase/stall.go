package usecase

import (
	"time"

	"competitor-research/internal/domain/model"
)

// Stall reasons surfaced to the UI and used as metric labels.
const (
	StallReasonHeartbeat  = "heartbeat"
	StallReasonDiscovery  = "discovery timeout"
	StallReasonExtraction = "extraction timeout"
)

type StallConfig struct {
	// StaleThreshold is how long the record may go without a worker
	// heartbeat before the job counts as stalled, whatever the phase.
	StaleThreshold time.Duration
	// DiscoveryTimeout flags a discovery phase that has produced zero
	// sites since the observer first saw it enter the phase.
	DiscoveryTimeout time.Duration
	// ExtractionTimeout does the same for extraction/dedup with zero FAQs.
	ExtractionTimeout time.Duration
}

func DefaultStallConfig() StallConfig {
	return StallConfig{
		StaleThreshold:    5 * time.Minute,
		DiscoveryTimeout:  8 * time.Minute,
		ExtractionTimeout: 15 * time.Minute,
	}
}

// Verdict is the detector's classification of one observation.
type Verdict struct {
	Stalled bool
	Reason  string
	// SyntheticError asks the presentation layer to render the job as
	// errored so the user is offered a retry. The stored status is never
	// touched; the next poll recomputes this from scratch.
	SyntheticError bool
}

func Healthy() Verdict { return Verdict{} }

func Stalled(reason string) Verdict { return Verdict{Stalled: true, Reason: reason} }

// StallDetector combines the record's heartbeat with the observer's locally
// measured phase-entry time. Both signals are pure computations over
// timestamps; the detector holds no per-job state.
type StallDetector struct {
	cfg   StallConfig
	clock Clock
}

func NewStallDetector(cfg StallConfig, clock Clock) *StallDetector {
	if clock == nil {
		clock = SystemClock()
	}
	return &StallDetector{cfg: cfg, clock: clock}
}

// Check classifies a job. phaseObservedAt is when this observer first saw
// the job in its current phase, not when the job entered it server-side; a
// freshly attached observer therefore always gives a full timeout window
// before flagging a phase-local stall.
func (d *StallDetector) Check(job *model.ResearchJob, phaseObservedAt time.Time) Verdict {
	if job.Status.Terminal() {
		return Healthy()
	}
	now := d.clock.Now()

	// A dead or disconnected worker stops writing heartbeats; this fires
	// regardless of phase and takes precedence over phase-local reasons.
	if now.Sub(job.HeartbeatAt) > d.cfg.StaleThreshold {
		return Stalled(StallReasonHeartbeat)
	}

	c := job.Progress()
	elapsed := now.Sub(phaseObservedAt)
	switch job.Status {
	case model.JobStatusDiscovering:
		if c.SitesDiscovered == 0 && elapsed > d.cfg.DiscoveryTimeout {
			v := Stalled(StallReasonDiscovery)
			v.SyntheticError = true
			return v
		}
	case model.JobStatusExtracting, model.JobStatusDeduplicating:
		if c.FAQsExtracted == 0 && elapsed > d.cfg.ExtractionTimeout {
			return Stalled(StallReasonExtraction)
		}
	}
	return Healthy()
}
