// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package settings holds the user-configurable geo settings with validated
// defaults, clamped writes, and pluggable device-local persistence.
//
// Settings are local to the device/session, not a profile-wide server
// setting: the default persistence is an embedded BadgerDB store.
package settings

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/stagesense/internal/logging"
	"github.com/tomtom215/stagesense/internal/models"
)

// storageKey is the persistence key for the settings document.
const storageKey = "geo_settings"

// Persistence is device-local storage for the settings document.
// Load returns (nil, nil) when no document exists.
type Persistence interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
}

// Bounds are the platform-defined clamp limits applied on every write.
type Bounds struct {
	MinRadiusMeters    float64 `koanf:"min_radius_meters" validate:"gt=0"`
	MaxRadiusMeters    float64 `koanf:"max_radius_meters" validate:"gt=0"`
	MinTimeWindowHours float64 `koanf:"min_time_window_hours" validate:"gt=0"`
	MaxTimeWindowHours float64 `koanf:"max_time_window_hours" validate:"gt=0"`
}

// DefaultBounds returns the platform clamp limits: radius between 100m and
// 100 miles, window between 30 minutes and a day.
func DefaultBounds() Bounds {
	return Bounds{
		MinRadiusMeters:    100,
		MaxRadiusMeters:    160934,
		MinTimeWindowHours: 0.5,
		MaxTimeWindowHours: 24,
	}
}

// Defaults returns the settings applied when no prior document exists:
// 5 mile radius, 3 hour window, high accuracy and auto-detect on.
func Defaults() models.GeoSettings {
	return models.GeoSettings{
		RadiusMeters:    8046.72,
		TimeWindowHours: 3,
		HighAccuracy:    true,
		AutoDetect:      true,
	}
}

// Patch is a partial settings update. Nil fields are left unchanged.
type Patch struct {
	RadiusMeters    *float64 `json:"radius_meters,omitempty"`
	TimeWindowHours *float64 `json:"time_window_hours,omitempty"`
	HighAccuracy    *bool    `json:"high_accuracy,omitempty"`
	AutoDetect      *bool    `json:"auto_detect,omitempty"`
}

// DecodePatch parses a patch document, rejecting unknown fields.
func DecodePatch(data []byte) (Patch, error) {
	var p Patch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Patch{}, fmt.Errorf("invalid settings patch: %w", err)
	}
	return p, nil
}

// Store provides validated access to the current GeoSettings.
type Store struct {
	mu      sync.RWMutex
	current models.GeoSettings
	persist Persistence
	bounds  Bounds
}

// NewStore loads existing settings from persistence, falling back to
// defaults when none exist or the stored document is corrupt.
func NewStore(persist Persistence, bounds Bounds) *Store {
	if bounds == (Bounds{}) {
		bounds = DefaultBounds()
	}
	s := &Store{
		persist: persist,
		bounds:  bounds,
		current: Defaults(),
	}

	data, err := persist.Load(storageKey)
	switch {
	case err != nil:
		logging.Warn().Err(err).Msg("failed to load settings, using defaults")
	case data == nil:
		// First run, defaults apply.
	default:
		var loaded models.GeoSettings
		if err := json.Unmarshal(data, &loaded); err != nil {
			logging.Warn().Err(err).Msg("corrupt stored settings, using defaults")
		} else {
			s.current = s.clamp(loaded)
		}
	}
	return s
}

// Get returns the current settings.
func (s *Store) Get() models.GeoSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set applies a partial update, clamps it to the platform bounds, persists
// it, and returns the resulting settings.
func (s *Store) Set(patch Patch) (models.GeoSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if patch.RadiusMeters != nil {
		next.RadiusMeters = *patch.RadiusMeters
	}
	if patch.TimeWindowHours != nil {
		next.TimeWindowHours = *patch.TimeWindowHours
	}
	if patch.HighAccuracy != nil {
		next.HighAccuracy = *patch.HighAccuracy
	}
	if patch.AutoDetect != nil {
		next.AutoDetect = *patch.AutoDetect
	}

	if next.RadiusMeters <= 0 {
		return s.current, fmt.Errorf("radius_meters must be positive, got %v", next.RadiusMeters)
	}
	if next.TimeWindowHours <= 0 {
		return s.current, fmt.Errorf("time_window_hours must be positive, got %v", next.TimeWindowHours)
	}

	next = s.clamp(next)

	data, err := json.Marshal(next)
	if err != nil {
		return s.current, fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.persist.Save(storageKey, data); err != nil {
		return s.current, fmt.Errorf("persist settings: %w", err)
	}

	s.current = next
	logging.Debug().
		Float64("radius_meters", next.RadiusMeters).
		Float64("time_window_hours", next.TimeWindowHours).
		Msg("settings updated")
	return next, nil
}

// clamp constrains radius and window to the platform bounds.
func (s *Store) clamp(in models.GeoSettings) models.GeoSettings {
	if in.RadiusMeters < s.bounds.MinRadiusMeters {
		in.RadiusMeters = s.bounds.MinRadiusMeters
	}
	if in.RadiusMeters > s.bounds.MaxRadiusMeters {
		in.RadiusMeters = s.bounds.MaxRadiusMeters
	}
	if in.TimeWindowHours < s.bounds.MinTimeWindowHours {
		in.TimeWindowHours = s.bounds.MinTimeWindowHours
	}
	if in.TimeWindowHours > s.bounds.MaxTimeWindowHours {
		in.TimeWindowHours = s.bounds.MaxTimeWindowHours
	}
	return in
}
