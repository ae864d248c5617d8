package model

type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageDone       StageStatus = "done"
	StageError      StageStatus = "error"
)

// The five fixed display stages. The twelve pipeline statuses collapse onto
// these for the progress indicator; geocoding/filtering/review fold into
// discover, dedup/embedding fold into extract/refine.
const (
	StageDiscover = iota
	StageValidate
	StageScrape
	StageExtract
	StageRefine
	StageCount
)

var stageNames = [StageCount]string{"discover", "validate", "scrape", "extract", "refine"}

func StageName(i int) string {
	if i < 0 || i >= StageCount {
		return ""
	}
	return stageNames[i]
}

// StageView is the derived per-stage status vector plus the scalar position
// used by linear progress bars. CurrentIndex is the index of the last stage
// that is done or in progress, and StageCount once all five are done.
type StageView struct {
	Stages       [StageCount]StageStatus
	CurrentIndex int
}

func (v StageView) Discover() StageStatus { return v.Stages[StageDiscover] }
func (v StageView) Validate() StageStatus { return v.Stages[StageValidate] }
func (v StageView) Scrape() StageStatus   { return v.Stages[StageScrape] }
func (v StageView) Extract() StageStatus  { return v.Stages[StageExtract] }
func (v StageView) Refine() StageStatus   { return v.Stages[StageRefine] }
