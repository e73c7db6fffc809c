package evidence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/events"
	"github.com/roofscope/backend/internal/metrics"
	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/internal/workflow"
	"github.com/roofscope/backend/pkg/logger"
)

var (
	// ErrStepNotCurrent is returned when evidence targets a step that is not
	// the session's open step. Closes the race where a client attaches
	// evidence to an already-resolved step.
	ErrStepNotCurrent = errors.New("evidence step is not the session's current step")

	// ErrSessionNotActive is returned when evidence targets a completed session.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrUnknownStep is returned when the step is not part of the methodology.
	ErrUnknownStep = errors.New("unknown methodology step")

	// ErrUnknownKind is returned for asset kinds outside the supported set.
	ErrUnknownKind = errors.New("unknown asset kind")
)

// Repository is the persistence surface the store needs.
type Repository interface {
	GetSession(ctx context.Context, id string) (*models.InspectionSession, error)
	InsertEvidence(ctx context.Context, asset *models.EvidenceAsset) error
	GetEvidence(ctx context.Context, id string) (*models.EvidenceAsset, error)
	SetEvidenceAnalysis(ctx context.Context, id string, analysis models.AIAnalysis) error
	ListEvidenceForStep(ctx context.Context, sessionID, step string) ([]models.EvidenceAsset, error)
}

// Dispatcher requests asynchronous provider analysis for a freshly attached
// asset. Enqueue must not block.
type Dispatcher interface {
	Enqueue(asset models.EvidenceAsset)
}

// Publisher pushes events to session subscribers.
type Publisher interface {
	Publish(sessionID string, event events.Event)
}

// SnapshotInvalidator drops a session's cached snapshot. Evidence writes change
// the composed view without touching the session row, so the store has to
// invalidate explicitly.
type SnapshotInvalidator interface {
	InvalidateSnapshot(ctx context.Context, sessionID string) error
}

// Store owns evidence records and their analysis lifecycle. It reads sessions
// only for the current-step precondition and never mutates them.
type Store struct {
	repo       Repository
	dispatcher Dispatcher
	publisher  Publisher
	cache      SnapshotInvalidator
}

func NewStore(repo Repository, dispatcher Dispatcher, publisher Publisher, cache SnapshotInvalidator) *Store {
	return &Store{
		repo:       repo,
		dispatcher: dispatcher,
		publisher:  publisher,
		cache:      cache,
	}
}

// Attach persists a new evidence record for the session's current step and
// queues provider analysis. The record is attached immediately; the analysis
// verdict lands later through RecordAnalysis.
func (s *Store) Attach(ctx context.Context, sessionID string, step workflow.Step, kind models.AssetKind, contentRef string, geo *models.Geolocation) (*models.EvidenceAsset, error) {
	if !workflow.IsStep(step) {
		return nil, ErrUnknownStep
	}
	if kind != models.AssetImage && kind != models.AssetThermalImage && kind != models.AssetAudio {
		return nil, ErrUnknownKind
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, ErrSessionNotActive
	}
	if session.CurrentStep != string(step) {
		return nil, ErrStepNotCurrent
	}

	asset := &models.EvidenceAsset{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Step:        string(step),
		Kind:        kind,
		ContentRef:  contentRef,
		Geolocation: geo,
		CapturedAt:  time.Now(),
	}

	if err := s.repo.InsertEvidence(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to attach evidence: %w", err)
	}

	metrics.EvidenceAttached.WithLabelValues(string(kind)).Inc()
	s.invalidateSnapshot(ctx, sessionID)

	if s.dispatcher != nil {
		s.dispatcher.Enqueue(*asset)
	}
	if s.publisher != nil {
		s.publisher.Publish(sessionID, events.Event{
			Type:    events.TypeEvidenceAttached,
			Payload: asset,
		})
	}

	logger.Info("Evidence attached",
		zap.String("evidence_id", asset.ID),
		zap.String("session_id", sessionID),
		zap.String("step", string(step)),
		zap.String("kind", string(kind)),
	)

	return asset, nil
}

// RecordAnalysis upserts the provider verdict onto an existing record. This is
// the only mutation the asynchronous provider callback performs; recording the
// same verdict twice is harmless.
func (s *Store) RecordAnalysis(ctx context.Context, evidenceID string, analysis models.AIAnalysis) (*models.EvidenceAsset, error) {
	if analysis.AnalyzedAt.IsZero() {
		analysis.AnalyzedAt = time.Now()
	}

	if err := s.repo.SetEvidenceAnalysis(ctx, evidenceID, analysis); err != nil {
		return nil, err
	}

	asset, err := s.repo.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, err
	}

	metrics.AnalysisRecorded.WithLabelValues(verdictLabel(analysis.IsValid)).Inc()
	s.invalidateSnapshot(ctx, asset.SessionID)

	if s.publisher != nil {
		s.publisher.Publish(asset.SessionID, events.Event{
			Type:    events.TypeAnalysisCompleted,
			Payload: asset,
		})
	}

	logger.Info("Evidence analysis recorded",
		zap.String("evidence_id", evidenceID),
		zap.Bool("is_valid", analysis.IsValid),
		zap.Float64("confidence", analysis.Confidence),
	)

	return asset, nil
}

func (s *Store) invalidateSnapshot(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSnapshot(ctx, sessionID); err != nil {
		logger.Warn("Failed to invalidate snapshot cache",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// ListForStep is the read path the validator and scorer consume.
func (s *Store) ListForStep(ctx context.Context, sessionID string, step workflow.Step) ([]models.EvidenceAsset, error) {
	return s.repo.ListEvidenceForStep(ctx, sessionID, string(step))
}

func verdictLabel(isValid bool) string {
	if isValid {
		return "valid"
	}
	return "invalid"
}
