package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/storage"
	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inspection_sessions (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		current_step TEXT NOT NULL,
		completed_steps TEXT NOT NULL,
		skips TEXT NOT NULL,
		status TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_property ON inspection_sessions(property_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_property
		ON inspection_sessions(property_id) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS evidence_assets (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		step TEXT NOT NULL,
		kind TEXT NOT NULL,
		content_ref TEXT NOT NULL,
		latitude REAL,
		longitude REAL,
		captured_at INTEGER NOT NULL,
		ai_is_valid INTEGER,
		ai_confidence REAL,
		ai_findings TEXT,
		analyzed_at INTEGER,
		FOREIGN KEY (session_id) REFERENCES inspection_sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_session ON evidence_assets(session_id);
	CREATE INDEX IF NOT EXISTS idx_evidence_session_step ON evidence_assets(session_id, step);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertSession(ctx context.Context, session *models.InspectionSession) error {
	completedJSON, _ := json.Marshal(session.CompletedSteps)
	skipsJSON, _ := json.Marshal(session.Skips)

	query := `
		INSERT INTO inspection_sessions (id, property_id, current_step, completed_steps,
			skips, status, score, started_at, completed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(
		ctx,
		query,
		session.ID,
		session.PropertyID,
		session.CurrentStep,
		string(completedJSON),
		string(skipsJSON),
		session.Status,
		session.Score,
		session.StartedAt.Unix(),
		nullableUnix(session.CompletedAt),
		session.Version,
	)

	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	logger.Debug("Session inserted",
		zap.String("session_id", session.ID),
		zap.String("property_id", session.PropertyID),
	)
	return nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*models.InspectionSession, error) {
	query := `
		SELECT id, property_id, current_step, completed_steps, skips, status, score,
			started_at, completed_at, version
		FROM inspection_sessions WHERE id = ?
	`

	return c.scanSession(c.db.QueryRowContext(ctx, query, id))
}

func (c *Client) GetActiveSessionByProperty(ctx context.Context, propertyID string) (*models.InspectionSession, error) {
	query := `
		SELECT id, property_id, current_step, completed_steps, skips, status, score,
			started_at, completed_at, version
		FROM inspection_sessions WHERE property_id = ? AND status = 'active'
	`

	return c.scanSession(c.db.QueryRowContext(ctx, query, propertyID))
}

// UpdateSessionVersioned writes session only if the stored version still equals
// expectedVersion. A lost race surfaces as storage.ErrVersionConflict.
func (c *Client) UpdateSessionVersioned(ctx context.Context, session *models.InspectionSession, expectedVersion int64) error {
	completedJSON, _ := json.Marshal(session.CompletedSteps)
	skipsJSON, _ := json.Marshal(session.Skips)

	query := `
		UPDATE inspection_sessions
		SET current_step = ?, completed_steps = ?, skips = ?, status = ?, score = ?,
			completed_at = ?, version = ?
		WHERE id = ? AND version = ?
	`

	result, err := c.db.ExecContext(
		ctx,
		query,
		session.CurrentStep,
		string(completedJSON),
		string(skipsJSON),
		session.Status,
		session.Score,
		nullableUnix(session.CompletedAt),
		session.Version,
		session.ID,
		expectedVersion,
	)

	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		if _, getErr := c.GetSession(ctx, session.ID); getErr != nil {
			return getErr
		}
		logger.Debug("Session write lost version race",
			zap.String("session_id", session.ID),
			zap.Int64("expected_version", expectedVersion),
		)
		return storage.ErrVersionConflict
	}

	return nil
}

func (c *Client) InsertEvidence(ctx context.Context, asset *models.EvidenceAsset) error {
	query := `
		INSERT INTO evidence_assets (id, session_id, step, kind, content_ref,
			latitude, longitude, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var lat, lon interface{}
	if asset.Geolocation != nil {
		lat = asset.Geolocation.Latitude
		lon = asset.Geolocation.Longitude
	}

	_, err := c.db.ExecContext(
		ctx,
		query,
		asset.ID,
		asset.SessionID,
		asset.Step,
		asset.Kind,
		asset.ContentRef,
		lat,
		lon,
		asset.CapturedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}

	logger.Debug("Evidence inserted",
		zap.String("evidence_id", asset.ID),
		zap.String("session_id", asset.SessionID),
		zap.String("step", asset.Step),
	)
	return nil
}

func (c *Client) GetEvidence(ctx context.Context, id string) (*models.EvidenceAsset, error) {
	query := `
		SELECT id, session_id, step, kind, content_ref, latitude, longitude,
			captured_at, ai_is_valid, ai_confidence, ai_findings, analyzed_at
		FROM evidence_assets WHERE id = ?
	`

	rows, err := c.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, storage.ErrNotFound
	}

	return scanEvidence(rows)
}

// SetEvidenceAnalysis records the provider verdict on an existing asset.
// Re-recording the same verdict is a harmless overwrite.
func (c *Client) SetEvidenceAnalysis(ctx context.Context, id string, analysis models.AIAnalysis) error {
	findingsJSON, _ := json.Marshal(analysis.Findings)

	isValid := 0
	if analysis.IsValid {
		isValid = 1
	}

	query := `
		UPDATE evidence_assets
		SET ai_is_valid = ?, ai_confidence = ?, ai_findings = ?, analyzed_at = ?
		WHERE id = ?
	`

	result, err := c.db.ExecContext(
		ctx,
		query,
		isValid,
		analysis.Confidence,
		string(findingsJSON),
		analysis.AnalyzedAt.Unix(),
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to set evidence analysis: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (c *Client) ListEvidenceForStep(ctx context.Context, sessionID, step string) ([]models.EvidenceAsset, error) {
	query := `
		SELECT id, session_id, step, kind, content_ref, latitude, longitude,
			captured_at, ai_is_valid, ai_confidence, ai_findings, analyzed_at
		FROM evidence_assets WHERE session_id = ? AND step = ?
		ORDER BY captured_at ASC
	`

	return c.listEvidence(ctx, query, sessionID, step)
}

func (c *Client) ListEvidenceBySession(ctx context.Context, sessionID string) ([]models.EvidenceAsset, error) {
	query := `
		SELECT id, session_id, step, kind, content_ref, latitude, longitude,
			captured_at, ai_is_valid, ai_confidence, ai_findings, analyzed_at
		FROM evidence_assets WHERE session_id = ?
		ORDER BY captured_at ASC
	`

	return c.listEvidence(ctx, query, sessionID)
}

func (c *Client) listEvidence(ctx context.Context, query string, args ...interface{}) ([]models.EvidenceAsset, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var assets []models.EvidenceAsset
	for rows.Next() {
		asset, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}

	return assets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (c *Client) scanSession(row rowScanner) (*models.InspectionSession, error) {
	var session models.InspectionSession
	var completedJSON, skipsJSON string
	var startedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&session.ID,
		&session.PropertyID,
		&session.CurrentStep,
		&completedJSON,
		&skipsJSON,
		&session.Status,
		&session.Score,
		&startedAt,
		&completedAt,
		&session.Version,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	json.Unmarshal([]byte(completedJSON), &session.CompletedSteps)
	json.Unmarshal([]byte(skipsJSON), &session.Skips)

	session.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		session.CompletedAt = &t
	}

	return &session, nil
}

func scanEvidence(row rowScanner) (*models.EvidenceAsset, error) {
	var asset models.EvidenceAsset
	var lat, lon sql.NullFloat64
	var capturedAt int64
	var aiIsValid sql.NullInt64
	var aiConfidence sql.NullFloat64
	var aiFindings sql.NullString
	var analyzedAt sql.NullInt64

	err := row.Scan(
		&asset.ID,
		&asset.SessionID,
		&asset.Step,
		&asset.Kind,
		&asset.ContentRef,
		&lat,
		&lon,
		&capturedAt,
		&aiIsValid,
		&aiConfidence,
		&aiFindings,
		&analyzedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to scan evidence: %w", err)
	}

	if lat.Valid && lon.Valid {
		asset.Geolocation = &models.Geolocation{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	asset.CapturedAt = time.Unix(capturedAt, 0)

	if analyzedAt.Valid {
		analysis := models.AIAnalysis{
			IsValid:    aiIsValid.Int64 == 1,
			Confidence: aiConfidence.Float64,
			AnalyzedAt: time.Unix(analyzedAt.Int64, 0),
		}
		if aiFindings.Valid {
			json.Unmarshal([]byte(aiFindings.String), &analysis.Findings)
		}
		asset.Analysis = &analysis
	}

	return &asset, nil
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
