package models

import "time"

// SessionStatus is the lifecycle state of an inspection session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// AssetKind identifies what kind of artifact an evidence record holds.
type AssetKind string

const (
	AssetImage        AssetKind = "image"
	AssetThermalImage AssetKind = "thermal-image"
	AssetAudio        AssetKind = "audio"
)

// SkipRecord is one audited exception: a step passed over with a coded reason.
type SkipRecord struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

// Geolocation is opaque capture metadata; the core never interprets it.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AIAnalysis is the provider's verdict on one evidence asset. A nil *AIAnalysis
// on the asset means analysis has not landed yet, which is not the same as
// IsValid == false.
type AIAnalysis struct {
	IsValid    bool      `json:"is_valid"`
	Confidence float64   `json:"confidence"`
	Findings   []string  `json:"findings"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

type EvidenceAsset struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Step        string       `json:"step"`
	Kind        AssetKind    `json:"kind"`
	ContentRef  string       `json:"content_ref"`
	Geolocation *Geolocation `json:"geolocation,omitempty"`
	CapturedAt  time.Time    `json:"captured_at"`
	Analysis    *AIAnalysis  `json:"analysis,omitempty"`
}

// InspectionSession tracks one property assessment through the methodology.
// Version increases on every mutation and backs the compare-and-swap write path.
type InspectionSession struct {
	ID             string        `json:"id"`
	PropertyID     string        `json:"property_id"`
	CurrentStep    string        `json:"current_step"`
	CompletedSteps []string      `json:"completed_steps"`
	Skips          []SkipRecord  `json:"skips"`
	Status         SessionStatus `json:"status"`
	Score          int           `json:"score"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Version        int64         `json:"version"`
}
