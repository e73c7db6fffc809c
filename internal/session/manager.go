package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/events"
	"github.com/roofscope/backend/internal/metrics"
	"github.com/roofscope/backend/internal/storage"
	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/internal/workflow"
	"github.com/roofscope/backend/pkg/logger"
)

// Store is the persistence surface the manager needs. Session writes go
// through the version compare-and-swap; evidence is read-only here.
type Store interface {
	InsertSession(ctx context.Context, session *models.InspectionSession) error
	GetSession(ctx context.Context, id string) (*models.InspectionSession, error)
	GetActiveSessionByProperty(ctx context.Context, propertyID string) (*models.InspectionSession, error)
	UpdateSessionVersioned(ctx context.Context, session *models.InspectionSession, expectedVersion int64) error
	ListEvidenceForStep(ctx context.Context, sessionID, step string) ([]models.EvidenceAsset, error)
	ListEvidenceBySession(ctx context.Context, sessionID string) ([]models.EvidenceAsset, error)
}

// Publisher pushes events to session subscribers.
type Publisher interface {
	Publish(sessionID string, event events.Event)
}

// SnapshotCache memoizes composed snapshots per session. Every mutation that
// could change the composed view invalidates the entry; evidence writes do so
// through the same interface, since they leave the session version untouched.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, sessionID string, snapshot interface{}) (bool, error)
	SetSnapshot(ctx context.Context, sessionID string, snapshot interface{}, ttl time.Duration) error
	InvalidateSnapshot(ctx context.Context, sessionID string) error
}

const defaultSnapshotTTL = 5 * time.Minute

// Config holds the workflow policy knobs.
type Config struct {
	SkipCredit          float64
	ConfidenceWarnBelow float64
	SnapshotTTL         time.Duration
}

// Snapshot is the read-only composite view the client renders.
type Snapshot struct {
	Session        *models.InspectionSession         `json:"session"`
	EvidenceByStep map[string][]models.EvidenceAsset `json:"evidence_by_step"`
	Completeness   workflow.CompletenessResult       `json:"completeness"`
	Validation     *workflow.ValidationResult        `json:"validation,omitempty"`
}

// Manager is the advancement controller: it owns session lifecycle, gates
// advance on the validator, enforces skip eligibility and serializes mutations
// through the session version.
type Manager struct {
	store     Store
	publisher Publisher
	cache     SnapshotCache
	cfg       Config
}

func NewManager(store Store, publisher Publisher, cache SnapshotCache, cfg Config) *Manager {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = defaultSnapshotTTL
	}
	return &Manager{
		store:     store,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg,
	}
}

// Completeness recomputes the score summary for a session. Never cached on the
// session beyond the plain score column; recompute, don't drift.
func (m *Manager) Completeness(s models.InspectionSession) workflow.CompletenessResult {
	return workflow.Score(s, m.cfg.SkipCredit)
}

// GetOrCreateActive returns the property's active session, creating one at the
// first methodology step when none exists. The storage layer's unique active
// index resolves a create race in favor of the first writer.
func (m *Manager) GetOrCreateActive(ctx context.Context, propertyID string) (*models.InspectionSession, error) {
	existing, err := m.store.GetActiveSessionByProperty(ctx, propertyID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}

	session := &models.InspectionSession{
		ID:             uuid.New().String(),
		PropertyID:     propertyID,
		CurrentStep:    string(workflow.First()),
		CompletedSteps: []string{},
		Skips:          []models.SkipRecord{},
		Status:         models.SessionActive,
		StartedAt:      time.Now(),
		Version:        1,
	}

	if err := m.store.InsertSession(ctx, session); err != nil {
		if winner, getErr := m.store.GetActiveSessionByProperty(ctx, propertyID); getErr == nil {
			return winner, nil
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("property_id", propertyID),
	)

	return session, nil
}

// Advance gates the current step on the validator and, when satisfied, moves
// the session forward one step. A blocked advance mutates nothing.
func (m *Manager) Advance(ctx context.Context, sessionID string) (*models.InspectionSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, ErrSessionCompleted
	}

	step := workflow.Step(session.CurrentStep)
	req := workflow.RequirementFor(step)

	assets, err := m.store.ListEvidenceForStep(ctx, sessionID, session.CurrentStep)
	if err != nil {
		// An unevaluated gate is a closed gate; never fail open.
		return nil, fmt.Errorf("failed to load evidence for validation: %w", err)
	}

	result := workflow.Validate(step, assets, req, m.cfg.ConfidenceWarnBelow)
	if !result.CanAdvance {
		metrics.AdvanceTotal.WithLabelValues("blocked").Inc()
		return nil, &BlockedError{Result: result}
	}

	session.CompletedSteps = append(session.CompletedSteps, session.CurrentStep)
	if err := m.commitTransition(ctx, session); err != nil {
		metrics.AdvanceTotal.WithLabelValues(commitLabel(err)).Inc()
		return nil, err
	}

	metrics.AdvanceTotal.WithLabelValues("ok").Inc()
	logger.Info("Session advanced",
		zap.String("session_id", sessionID),
		zap.String("from_step", string(step)),
		zap.String("to_step", session.CurrentStep),
		zap.Int("score", session.Score),
	)

	return session, nil
}

// Skip records an audited exception for the current step and advances past it.
// It bypasses the validator but not the registry's eligibility rules.
func (m *Manager) Skip(ctx context.Context, sessionID, reason string) (*models.InspectionSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, ErrSessionCompleted
	}

	step := workflow.Step(session.CurrentStep)
	req := workflow.RequirementFor(step)

	if !req.Skippable {
		return nil, ErrSkipNotAllowed
	}
	if !req.AllowsReason(reason) {
		return nil, ErrInvalidSkipReason
	}

	session.Skips = append(session.Skips, models.SkipRecord{
		Step:   session.CurrentStep,
		Reason: reason,
	})
	if err := m.commitTransition(ctx, session); err != nil {
		return nil, err
	}

	metrics.SkipTotal.WithLabelValues(string(step), reason).Inc()
	logger.Info("Step skipped",
		zap.String("session_id", sessionID),
		zap.String("step", string(step)),
		zap.String("reason", reason),
	)

	return session, nil
}

// Snapshot assembles the session, its evidence grouped by step, the recomputed
// completeness and the current step's validation preview. Read-only.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		var cached Snapshot
		if ok, err := m.cache.GetSnapshot(ctx, sessionID, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	assets, err := m.store.ListEvidenceBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session evidence: %w", err)
	}

	byStep := make(map[string][]models.EvidenceAsset)
	for _, asset := range assets {
		byStep[asset.Step] = append(byStep[asset.Step], asset)
	}

	snapshot := &Snapshot{
		Session:        session,
		EvidenceByStep: byStep,
		Completeness:   workflow.Score(*session, m.cfg.SkipCredit),
	}

	if session.Status == models.SessionActive {
		step := workflow.Step(session.CurrentStep)
		result := workflow.Validate(step, byStep[session.CurrentStep],
			workflow.RequirementFor(step), m.cfg.ConfidenceWarnBelow)
		snapshot.Validation = &result
	}

	if m.cache != nil {
		if err := m.cache.SetSnapshot(ctx, sessionID, snapshot, m.cfg.SnapshotTTL); err != nil {
			logger.Warn("Failed to cache snapshot", zap.Error(err))
		}
	}

	return snapshot, nil
}

// commitTransition moves the current step forward one position, closes the
// session after the final step, rescores and persists via compare-and-swap.
// Both advance and skip funnel through here so the two paths cannot drift.
func (m *Manager) commitTransition(ctx context.Context, session *models.InspectionSession) error {
	next := workflow.Next(workflow.Step(session.CurrentStep))
	session.CurrentStep = string(next)
	if next == workflow.StepCompleted {
		session.Status = models.SessionCompleted
		now := time.Now()
		session.CompletedAt = &now
	}

	expected := session.Version
	session.Version++
	session.Score = workflow.Score(*session, m.cfg.SkipCredit).Score

	if err := m.store.UpdateSessionVersioned(ctx, session, expected); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
		}
		return err
	}

	metrics.CompletenessScore.Observe(float64(session.Score))
	if session.Status == models.SessionCompleted {
		metrics.SessionsCompleted.Inc()
	}

	if m.cache != nil {
		if err := m.cache.InvalidateSnapshot(ctx, session.ID); err != nil {
			logger.Warn("Failed to invalidate snapshot cache", zap.Error(err))
		}
	}

	if m.publisher != nil {
		m.publisher.Publish(session.ID, events.Event{
			Type:    events.TypeSessionUpdated,
			Payload: session,
		})
	}

	return nil
}

func commitLabel(err error) string {
	if errors.Is(err, storage.ErrVersionConflict) {
		return "conflict"
	}
	return "error"
}
