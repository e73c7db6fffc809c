package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/session"
	"github.com/roofscope/backend/internal/storage"
	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/internal/workflow"
	"github.com/roofscope/backend/pkg/logger"
)

// SessionManager is the controller surface the handlers consume.
type SessionManager interface {
	GetOrCreateActive(ctx context.Context, propertyID string) (*models.InspectionSession, error)
	Advance(ctx context.Context, sessionID string) (*models.InspectionSession, error)
	Skip(ctx context.Context, sessionID, reason string) (*models.InspectionSession, error)
	Snapshot(ctx context.Context, sessionID string) (*session.Snapshot, error)
	Completeness(s models.InspectionSession) workflow.CompletenessResult
}

type SessionHandler struct {
	manager SessionManager
}

func NewSessionHandler(manager SessionManager) *SessionHandler {
	return &SessionHandler{
		manager: manager,
	}
}

func (h *SessionHandler) GetOrCreate(c *fiber.Ctx) error {
	var req struct {
		PropertyID string `json:"property_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.PropertyID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "property_id is required",
		})
	}

	sess, err := h.manager.GetOrCreateActive(c.Context(), req.PropertyID)
	if err != nil {
		logger.Error("Failed to get or create session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get or create session",
		})
	}

	return c.JSON(fiber.Map{
		"session":      sess,
		"completeness": h.manager.Completeness(*sess),
	})
}

func (h *SessionHandler) Advance(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	sess, err := h.manager.Advance(c.Context(), sessionID)
	if err != nil {
		return h.sessionError(c, err, "advance")
	}

	return c.JSON(fiber.Map{
		"session":      sess,
		"completeness": h.manager.Completeness(*sess),
	})
}

func (h *SessionHandler) Skip(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	var req struct {
		Reason string `json:"reason"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "reason is required",
		})
	}

	sess, err := h.manager.Skip(c.Context(), sessionID, req.Reason)
	if err != nil {
		return h.sessionError(c, err, "skip")
	}

	return c.JSON(fiber.Map{
		"session":      sess,
		"completeness": h.manager.Completeness(*sess),
	})
}

func (h *SessionHandler) Snapshot(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	snapshot, err := h.manager.Snapshot(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		logger.Error("Failed to build snapshot", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build snapshot",
		})
	}

	return c.JSON(snapshot)
}

// sessionError translates the controller's error taxonomy into HTTP statuses.
// Blocked advances are the one case carrying structured detail back out.
func (h *SessionHandler) sessionError(c *fiber.Ctx, err error, op string) error {
	var blocked *session.BlockedError
	if errors.As(err, &blocked) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":    "Cannot advance, requirements unmet",
			"blockers": blocked.Result.Blockers,
			"warnings": blocked.Result.Warnings,
		})
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	case errors.Is(err, session.ErrSessionCompleted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Session is already completed",
		})
	case errors.Is(err, session.ErrSkipNotAllowed):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Current step does not allow skipping",
		})
	case errors.Is(err, session.ErrInvalidSkipReason):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Skip reason is not allowed for the current step",
		})
	case errors.Is(err, storage.ErrVersionConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Session was modified concurrently, retry with fresh state",
		})
	}

	logger.Error("Session operation failed", zap.String("op", op), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal error",
	})
}
