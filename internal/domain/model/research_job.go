package model

import "time"

type ResearchJobStatus string

const (
	JobStatusQueued        ResearchJobStatus = "queued"
	JobStatusGeocoding     ResearchJobStatus = "geocoding"
	JobStatusDiscovering   ResearchJobStatus = "discovering"
	JobStatusFiltering     ResearchJobStatus = "filtering"
	JobStatusReviewReady   ResearchJobStatus = "review_ready"
	JobStatusValidating    ResearchJobStatus = "validating"
	JobStatusScraping      ResearchJobStatus = "scraping"
	JobStatusExtracting    ResearchJobStatus = "extracting"
	JobStatusDeduplicating ResearchJobStatus = "deduplicating"
	JobStatusRefining      ResearchJobStatus = "refining"
	JobStatusEmbedding     ResearchJobStatus = "embedding"
	JobStatusCompleted     ResearchJobStatus = "completed"
	JobStatusError         ResearchJobStatus = "error"
	JobStatusCancelled     ResearchJobStatus = "cancelled"
)

// statusOrder ranks the non-terminal pipeline phases. Terminal states are
// reachable from any rank and carry no rank of their own (completed closes
// the sequence, error/cancelled abort it).
var statusOrder = map[ResearchJobStatus]int{
	JobStatusQueued:        0,
	JobStatusGeocoding:     1,
	JobStatusDiscovering:   2,
	JobStatusFiltering:     3,
	JobStatusReviewReady:   4,
	JobStatusValidating:    5,
	JobStatusScraping:      6,
	JobStatusExtracting:    7,
	JobStatusDeduplicating: 8,
	JobStatusRefining:      9,
	JobStatusEmbedding:     10,
	JobStatusCompleted:     11,
}

func (s ResearchJobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusGeocoding, JobStatusDiscovering, JobStatusFiltering,
		JobStatusReviewReady, JobStatusValidating, JobStatusScraping, JobStatusExtracting,
		JobStatusDeduplicating, JobStatusRefining, JobStatusEmbedding,
		JobStatusCompleted, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further phase transitions can occur.
func (s ResearchJobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusCancelled
}

// Rank returns the phase position for ordering checks. Terminal failure
// states rank as -1 since they sit outside the sequence.
func (s ResearchJobStatus) Rank() int {
	if r, ok := statusOrder[s]; ok {
		return r
	}
	return -1
}

// TargetTiers are the allowed sizes of a research run. Anything else makes
// expected runtime unpredictable and is rejected at creation.
var TargetTiers = []int{50, 100, 250}

func ValidTargetTier(n int) bool {
	for _, t := range TargetTiers {
		if n == t {
			return true
		}
	}
	return false
}

// ResearchJob is the single mutable record tracking one competitor research
// run. Inputs are immutable after creation; counters and status are advanced
// by the external workflow engine and must never decrease while the job is
// active. The aliased columns (SitesApproved, FAQsGenerated) exist because
// earlier pipeline versions wrote under different names; read them only
// through Progress().
type ResearchJob struct {
	ID          string
	WorkspaceID string
	Status      ResearchJobStatus

	NicheQuery    string
	ServiceArea   string
	TargetCount   int
	SearchQueries []string

	SitesDiscovered int
	SitesValidated  int
	SitesApproved   int // legacy alias of SitesValidated
	SitesScraped    int
	PagesScraped    int
	FAQsExtracted   int
	FAQsGenerated   int // legacy alias of FAQsExtracted
	FAQsAfterDedup  int
	FAQsRefined     int
	FAQsAdded       int

	HeartbeatAt           time.Time
	CurrentScrapingDomain *string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// ProgressCounters is the canonical counter set with legacy aliases already
// resolved. All stage math goes through this, never the raw columns.
type ProgressCounters struct {
	SitesDiscovered int
	SitesValidated  int
	SitesScraped    int
	PagesScraped    int
	FAQsExtracted   int
	FAQsAfterDedup  int
	FAQsRefined     int
	FAQsAdded       int
}

// Progress normalizes the record's counters. Whichever of an alias pair is
// populated wins; when both are, the larger one is taken since counters only
// ever grow within a run.
func (j *ResearchJob) Progress() ProgressCounters {
	return ProgressCounters{
		SitesDiscovered: j.SitesDiscovered,
		SitesValidated:  maxInt(j.SitesValidated, j.SitesApproved),
		SitesScraped:    j.SitesScraped,
		PagesScraped:    j.PagesScraped,
		FAQsExtracted:   maxInt(j.FAQsExtracted, j.FAQsGenerated),
		FAQsAfterDedup:  j.FAQsAfterDedup,
		FAQsRefined:     j.FAQsRefined,
		FAQsAdded:       j.FAQsAdded,
	}
}

// Active reports whether the job still occupies its workspace's single
// active-run slot.
func (j *ResearchJob) Active() bool {
	return !j.Status.Terminal()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
