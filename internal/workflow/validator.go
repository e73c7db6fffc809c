package workflow

import (
	"fmt"

	"github.com/roofscope/backend/internal/storage/models"
)

// Blocker and warning codes surfaced by Validate.
const (
	CodeInsufficientEvidence = "INSUFFICIENT_EVIDENCE"
	CodeAIValidationMissing  = "AI_VALIDATION_MISSING"
	CodeLowAIConfidence      = "LOW_AI_CONFIDENCE"
)

// Issue is one blocker or warning produced by validation.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is computed on demand and never persisted.
type ValidationResult struct {
	CanAdvance bool    `json:"can_advance"`
	Blockers   []Issue `json:"blockers"`
	Warnings   []Issue `json:"warnings"`
}

// Validate decides whether a step's evidence satisfies its requirement. It is
// pure: the same inputs always produce the same result, so the preview check a
// client renders and the gate Advance applies cannot diverge.
//
// Evidence whose analysis has not landed counts toward the evidence minimum but
// not toward the AI-validation rule.
func Validate(step Step, evidence []models.EvidenceAsset, req Requirement, confidenceWarnBelow float64) ValidationResult {
	result := ValidationResult{}

	if len(evidence) < req.MinEvidenceCount {
		deficit := req.MinEvidenceCount - len(evidence)
		result.Blockers = append(result.Blockers, Issue{
			Code: CodeInsufficientEvidence,
			Message: fmt.Sprintf("step %s requires %d evidence item(s), %d more needed",
				step, req.MinEvidenceCount, deficit),
		})
	}

	if req.AIValidationRequired {
		validated := false
		pending := 0
		for _, asset := range evidence {
			if asset.Analysis == nil {
				pending++
				continue
			}
			if asset.Analysis.IsValid {
				validated = true
			}
		}
		if !validated {
			msg := fmt.Sprintf("step %s requires at least one AI-validated evidence item", step)
			if pending > 0 {
				msg = fmt.Sprintf("%s; analysis is still pending for %d item(s)", msg, pending)
			}
			result.Blockers = append(result.Blockers, Issue{
				Code:    CodeAIValidationMissing,
				Message: msg,
			})
		}
	}

	for _, asset := range evidence {
		if asset.Analysis == nil || !asset.Analysis.IsValid {
			continue
		}
		if asset.Analysis.Confidence < confidenceWarnBelow {
			result.Warnings = append(result.Warnings, Issue{
				Code: CodeLowAIConfidence,
				Message: fmt.Sprintf("evidence %s validated with low confidence %.2f",
					asset.ID, asset.Analysis.Confidence),
			})
		}
	}

	result.CanAdvance = len(result.Blockers) == 0
	return result
}
