// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package policy decides what to do with a ranked candidate list:
// auto-navigate to a single high-confidence match, present the ranked list,
// or show the empty state.
//
// The policy itself is stateless. Auto-navigation carries a grace delay so
// the caller can give the user a cancel window before acting; the delay and
// cancel handling belong to the caller, not the policy.
package policy

import (
	"time"

	"github.com/tomtom215/stagesense/internal/models"
)

// ActionKind identifies the decision outcome.
type ActionKind string

const (
	// ActionAutoNavigate navigates straight to the single high-confidence
	// match after the grace delay elapses uncancelled.
	ActionAutoNavigate ActionKind = "auto_navigate"

	// ActionPresent shows the ranked candidate list with no automatic
	// action. The caller should scroll the list into view.
	ActionPresent ActionKind = "present"

	// ActionEmpty shows the no-matches state.
	ActionEmpty ActionKind = "empty"
)

// Action is the decision emitted for a candidate set.
type Action struct {
	Kind ActionKind `json:"kind"`

	// ShowID is set for auto_navigate.
	ShowID string `json:"show_id,omitempty"`

	// Candidates is the ranked list, set for present.
	Candidates []models.MatchCandidate `json:"candidates,omitempty"`

	// GraceDelay is the cancel window the caller must honor before acting
	// on an auto_navigate decision.
	GraceDelay time.Duration `json:"grace_delay_ms,omitempty"`
}

// Config holds the decision thresholds. These are fixed configuration
// constants of the engine, never derived at runtime.
type Config struct {
	// HighConfidenceThreshold gates auto-navigation (score must exceed it).
	HighConfidenceThreshold float64 `koanf:"high_confidence_threshold" validate:"gte=0,lte=100"`

	// MediumConfidenceThreshold is used only for UI emphasis, never for
	// decisions.
	MediumConfidenceThreshold float64 `koanf:"medium_confidence_threshold" validate:"gte=0,lte=100"`

	// AutoNavigateGraceDelay is the cancel window carried on auto_navigate
	// actions.
	AutoNavigateGraceDelay time.Duration `koanf:"auto_navigate_grace_delay"`
}

// DefaultConfig returns the tuned thresholds.
func DefaultConfig() Config {
	return Config{
		HighConfidenceThreshold:   75,
		MediumConfidenceThreshold: 45,
		AutoNavigateGraceDelay:    3 * time.Second,
	}
}

// Policy turns ranked candidates into an Action.
type Policy struct {
	cfg Config
}

// New creates a Policy. Zero-value fields fall back to defaults.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.HighConfidenceThreshold <= 0 {
		cfg.HighConfidenceThreshold = def.HighConfidenceThreshold
	}
	if cfg.MediumConfidenceThreshold <= 0 {
		cfg.MediumConfidenceThreshold = def.MediumConfidenceThreshold
	}
	if cfg.AutoNavigateGraceDelay <= 0 {
		cfg.AutoNavigateGraceDelay = def.AutoNavigateGraceDelay
	}
	return &Policy{cfg: cfg}
}

// Decide maps a ranked candidate list to an action.
//
// Auto-navigation requires exactly one candidate scoring above the high
// threshold. Two or more candidates always present, regardless of score:
// the user, not the engine, disambiguates.
func (p *Policy) Decide(candidates []models.MatchCandidate) Action {
	switch {
	case len(candidates) == 0:
		return Action{Kind: ActionEmpty}

	case len(candidates) == 1 && candidates[0].ConfidenceScore > p.cfg.HighConfidenceThreshold:
		return Action{
			Kind:       ActionAutoNavigate,
			ShowID:     candidates[0].ShowID,
			GraceDelay: p.cfg.AutoNavigateGraceDelay,
		}

	default:
		return Action{Kind: ActionPresent, Candidates: candidates}
	}
}

// Emphasis classifies a score for UI display using the medium threshold.
// Purely cosmetic; decisions never consult this.
func (p *Policy) Emphasis(score float64) string {
	switch {
	case score > p.cfg.HighConfidenceThreshold:
		return "high"
	case score > p.cfg.MediumConfidenceThreshold:
		return "medium"
	default:
		return "low"
	}
}
