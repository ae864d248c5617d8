package usecase

import (
	"time"

	"competitor-research/internal/domain/model"
)

// JobView is the consolidated read model published on every poll: the point
// in time record, the derived stage vector, the stall verdict and the
// status the UI should present.
type JobView struct {
	Job        *model.ResearchJob
	Stages     model.StageView
	Counters   model.ProgressCounters
	Stall      Verdict
	Elapsed    time.Duration
	ObservedAt time.Time
}

// EffectiveStatus is the stored status, except that a stall flagged as a
// synthetic error reads as error so the UI can offer retry. This is purely a
// read-time reclassification; the record keeps its real status.
func (v JobView) EffectiveStatus() model.ResearchJobStatus {
	if v.Stall.SyntheticError {
		return model.JobStatusError
	}
	return v.Job.Status
}

// ComposeView builds the view model for one observation.
func ComposeView(job *model.ResearchJob, verdict Verdict, now time.Time) JobView {
	return JobView{
		Job:        job,
		Stages:     DeriveStages(job),
		Counters:   job.Progress(),
		Stall:      verdict,
		Elapsed:    now.Sub(job.CreatedAt),
		ObservedAt: now,
	}
}
