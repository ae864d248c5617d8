package usecase

import (
	"competitor-research/internal/domain/model"
)

// stageCounter returns the normalized counter that proves a stage was
// attempted.
func stageCounter(c model.ProgressCounters, stage int) int {
	switch stage {
	case model.StageDiscover:
		return c.SitesDiscovered
	case model.StageValidate:
		return c.SitesValidated
	case model.StageScrape:
		return c.SitesScraped
	case model.StageExtract:
		return c.FAQsExtracted
	case model.StageRefine:
		return c.FAQsRefined
	}
	return 0
}

// DeriveStages maps a job record to the five-stage progress vector.
//
// For an active or completed job the stored status alone decides the vector;
// counters are deliberately ignored so a snapshot mid-write can never show
// stages out of order. For a failed job the status no longer says which
// phase broke, so the counters are walked instead: the first stage that was
// never attempted carries the error. A cancelled job freezes at whatever the
// counters prove was reached, with no error stage.
func DeriveStages(job *model.ResearchJob) model.StageView {
	var v model.StageView
	switch job.Status {
	case model.JobStatusError:
		v.Stages = attributeFailure(job.Progress())
	case model.JobStatusCancelled:
		v.Stages = freezeProgress(job.Progress())
	default:
		v.Stages = statusVector(job.Status)
	}
	v.CurrentIndex = currentStageIndex(v.Stages)
	return v
}

// statusVector is the fixed status -> stage mapping for non-failed jobs.
// The switch is exhaustive over the non-terminal sequence plus completed;
// unknown statuses read as nothing-started.
func statusVector(s model.ResearchJobStatus) [model.StageCount]model.StageStatus {
	var out [model.StageCount]model.StageStatus
	for i := range out {
		out[i] = model.StagePending
	}
	mark := func(done int, current int) {
		for i := 0; i < done; i++ {
			out[i] = model.StageDone
		}
		if current >= 0 {
			out[current] = model.StageInProgress
		}
	}
	switch s {
	case model.JobStatusQueued:
		// nothing started yet
	case model.JobStatusGeocoding, model.JobStatusDiscovering, model.JobStatusFiltering:
		mark(0, model.StageDiscover)
	case model.JobStatusReviewReady:
		// paused for human confirmation; discovery is finished but
		// validation has not begun
		mark(1, -1)
	case model.JobStatusValidating:
		mark(1, model.StageValidate)
	case model.JobStatusScraping:
		mark(2, model.StageScrape)
	case model.JobStatusExtracting, model.JobStatusDeduplicating:
		mark(3, model.StageExtract)
	case model.JobStatusRefining, model.JobStatusEmbedding:
		mark(4, model.StageRefine)
	case model.JobStatusCompleted:
		mark(model.StageCount, -1)
	}
	return out
}

// attributeFailure walks the stages in order and blames the first one whose
// counter is still zero. Everything before it completed, everything after it
// never ran. With all counters non-zero the failure can only have happened
// in the last stage.
func attributeFailure(c model.ProgressCounters) [model.StageCount]model.StageStatus {
	var out [model.StageCount]model.StageStatus
	failed := model.StageRefine
	for i := 0; i < model.StageCount; i++ {
		if stageCounter(c, i) == 0 {
			failed = i
			break
		}
	}
	for i := 0; i < model.StageCount; i++ {
		switch {
		case i < failed:
			out[i] = model.StageDone
		case i == failed:
			out[i] = model.StageError
		default:
			out[i] = model.StagePending
		}
	}
	return out
}

func freezeProgress(c model.ProgressCounters) [model.StageCount]model.StageStatus {
	var out [model.StageCount]model.StageStatus
	for i := 0; i < model.StageCount; i++ {
		if stageCounter(c, i) > 0 {
			out[i] = model.StageDone
		} else {
			out[i] = model.StagePending
		}
	}
	return out
}

// currentStageIndex is the scalar position for a linear progress bar: the
// index of the last stage that is done, in progress or errored, and
// StageCount once every stage is done.
func currentStageIndex(stages [model.StageCount]model.StageStatus) int {
	idx := 0
	allDone := true
	for i, s := range stages {
		if s != model.StageDone {
			allDone = false
		}
		if s == model.StageDone || s == model.StageInProgress || s == model.StageError {
			idx = i
		}
	}
	if allDone {
		return model.StageCount
	}
	return idx
}
