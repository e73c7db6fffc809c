package workflow

import (
	"math"

	"github.com/roofscope/backend/internal/storage/models"
)

// StepStatus is the resolution state of one step within a session.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusCompleted StepStatus = "completed"
	StatusSkipped   StepStatus = "skipped"
)

// CompletenessResult summarizes protocol adherence for one session. It is
// recomputed from the session on every read rather than cached.
type CompletenessResult struct {
	Score      int                 `json:"score"`
	StepStatus map[Step]StepStatus `json:"step_status"`
}

// Score computes the 0-100 completeness score. Completed steps earn full
// credit; skipped steps earn the skipCredit fraction (an audited exception is
// not a free pass); pending steps earn nothing. skipCredit must be in [0,1].
func Score(session models.InspectionSession, skipCredit float64) CompletenessResult {
	completed := make(map[Step]bool, len(session.CompletedSteps))
	for _, s := range session.CompletedSteps {
		completed[Step(s)] = true
	}
	skipped := make(map[Step]bool, len(session.Skips))
	for _, rec := range session.Skips {
		skipped[Step(rec.Step)] = true
	}

	statuses := make(map[Step]StepStatus, len(Steps))
	var sum float64
	for _, step := range Steps {
		switch {
		case completed[step]:
			statuses[step] = StatusCompleted
			sum += 1.0
		case skipped[step]:
			statuses[step] = StatusSkipped
			sum += skipCredit
		default:
			statuses[step] = StatusPending
		}
	}

	score := int(math.Round(sum / float64(len(Steps)) * 100))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return CompletenessResult{Score: score, StepStatus: statuses}
}
