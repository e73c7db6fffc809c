package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/evidence"
	"github.com/roofscope/backend/internal/storage"
	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/internal/workflow"
	"github.com/roofscope/backend/pkg/logger"
)

// EvidenceStore is the evidence surface the handlers consume.
type EvidenceStore interface {
	Attach(ctx context.Context, sessionID string, step workflow.Step, kind models.AssetKind, contentRef string, geo *models.Geolocation) (*models.EvidenceAsset, error)
	RecordAnalysis(ctx context.Context, evidenceID string, analysis models.AIAnalysis) (*models.EvidenceAsset, error)
}

type EvidenceHandler struct {
	store EvidenceStore
}

func NewEvidenceHandler(store EvidenceStore) *EvidenceHandler {
	return &EvidenceHandler{
		store: store,
	}
}

func (h *EvidenceHandler) Attach(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	var req struct {
		Step        string              `json:"step"`
		Kind        string              `json:"kind"`
		ContentRef  string              `json:"content_ref"`
		Geolocation *models.Geolocation `json:"geolocation"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Step == "" || req.Kind == "" || req.ContentRef == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "step, kind and content_ref are required",
		})
	}

	asset, err := h.store.Attach(c.Context(), sessionID, workflow.Step(req.Step),
		models.AssetKind(req.Kind), req.ContentRef, req.Geolocation)
	if err != nil {
		return h.evidenceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"evidence": asset,
		"analysis": "pending",
	})
}

// RecordAnalysis is the provider-callback side of the boundary.
func (h *EvidenceHandler) RecordAnalysis(c *fiber.Ctx) error {
	evidenceID := c.Params("id")

	var req struct {
		IsValid    *bool    `json:"is_valid"`
		Confidence *float64 `json:"confidence"`
		Findings   []string `json:"findings"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.IsValid == nil || req.Confidence == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "is_valid and confidence are required",
		})
	}
	if *req.Confidence < 0 || *req.Confidence > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "confidence must be between 0 and 1",
		})
	}

	asset, err := h.store.RecordAnalysis(c.Context(), evidenceID, models.AIAnalysis{
		IsValid:    *req.IsValid,
		Confidence: *req.Confidence,
		Findings:   req.Findings,
	})
	if err != nil {
		return h.evidenceError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":   "recorded",
		"evidence": asset,
	})
}

func (h *EvidenceHandler) evidenceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Record not found",
		})
	case errors.Is(err, evidence.ErrUnknownStep), errors.Is(err, evidence.ErrUnknownKind):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, evidence.ErrStepNotCurrent):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Evidence must target the session's current step",
		})
	case errors.Is(err, evidence.ErrSessionNotActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Session is not active",
		})
	}

	logger.Error("Evidence operation failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal error",
	})
}
