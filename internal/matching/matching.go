// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package matching implements the candidate matching engine: a pure,
// synchronous function from (position, settings, catalog) to a ranked list
// of scored show candidates.
//
// Confidence is a weighted blend of three components, normalized to [0,100]:
//
//   - Proximity (dominant): 1 - distance/radius, floored at 0.
//   - Temporal: full boost for live shows and imminent starts, decaying
//     across the remainder of the time window.
//   - Accuracy penalty: min(1, accuracy / max(radius - distance, 50m)).
//     A low-accuracy fix near the radius boundary is less trustworthy than
//     a tight fix well inside it, and the penalty grows with distance so
//     confidence stays monotonically non-increasing in distance.
//
// The matcher never deduplicates by venue: two shows at the same venue and
// time are both returned.
package matching

import (
	"math"
	"sort"
	"time"

	"github.com/tomtom215/stagesense/internal/geo"
	"github.com/tomtom215/stagesense/internal/models"
)

// accuracyDistanceFloorMeters prevents the accuracy penalty from blowing up
// when a candidate sits at the very edge of the radius.
const accuracyDistanceFloorMeters = 50.0

// ScoringConfig holds the fixed scoring constants. Weights satisfy
// proximity >= temporal >= accuracy.
type ScoringConfig struct {
	// ProximityWeight scales the distance component.
	ProximityWeight float64 `koanf:"proximity_weight" validate:"gt=0,lte=1"`

	// TemporalWeight scales the start-time component.
	TemporalWeight float64 `koanf:"temporal_weight" validate:"gte=0,lte=1"`

	// AccuracyWeight scales the fix-accuracy penalty.
	AccuracyWeight float64 `koanf:"accuracy_weight" validate:"gte=0,lte=1"`

	// ImminentWindow is how far ahead a start time still earns the full
	// temporal boost.
	ImminentWindow time.Duration `koanf:"imminent_window"`

	// TemporalFloor is the temporal component at the far end of the window.
	TemporalFloor float64 `koanf:"temporal_floor" validate:"gte=0,lte=1"`

	// AvgSpeedKmH is the assumed average speed for the straight-line travel
	// time estimate. This is an approximation, not routing.
	AvgSpeedKmH float64 `koanf:"avg_speed_kmh" validate:"gt=0"`
}

// DefaultScoringConfig returns the tuned defaults. See DESIGN.md for how
// these were validated against the acceptance scenarios.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		ProximityWeight: 0.65,
		TemporalWeight:  0.25,
		AccuracyWeight:  0.10,
		ImminentWindow:  time.Hour,
		TemporalFloor:   0.25,
		AvgSpeedKmH:     4.5, // walking pace
	}
}

// Engine scores and ranks show candidates. It holds only immutable
// configuration and is safe for concurrent use.
type Engine struct {
	cfg ScoringConfig
}

// NewEngine creates a matching engine with the given scoring constants.
// Zero-value fields fall back to defaults.
func NewEngine(cfg ScoringConfig) *Engine {
	def := DefaultScoringConfig()
	if cfg.ProximityWeight <= 0 {
		cfg.ProximityWeight = def.ProximityWeight
	}
	if cfg.TemporalWeight <= 0 {
		cfg.TemporalWeight = def.TemporalWeight
	}
	if cfg.AccuracyWeight <= 0 {
		cfg.AccuracyWeight = def.AccuracyWeight
	}
	if cfg.ImminentWindow <= 0 {
		cfg.ImminentWindow = def.ImminentWindow
	}
	if cfg.TemporalFloor <= 0 {
		cfg.TemporalFloor = def.TemporalFloor
	}
	if cfg.AvgSpeedKmH <= 0 {
		cfg.AvgSpeedKmH = def.AvgSpeedKmH
	}
	return &Engine{cfg: cfg}
}

// Match computes the ranked candidate list for a position fix. Pure and
// deterministic given identical inputs: the caller supplies now explicitly.
//
// An empty or fully filtered catalog yields an empty result, not an error.
func (e *Engine) Match(now time.Time, loc models.LocationSample, settings models.GeoSettings, entries []models.CatalogEntry) []models.MatchCandidate {
	if settings.RadiusMeters <= 0 || settings.TimeWindowHours <= 0 {
		return nil
	}

	window := time.Duration(settings.TimeWindowHours * float64(time.Hour))
	earliest := now.Add(-window / 2)
	latest := now.Add(window)

	candidates := make([]models.MatchCandidate, 0, len(entries))
	for _, entry := range entries {
		show := entry.Show
		if !show.Status.Attendable() {
			continue
		}
		venue := entry.Venue
		if venue == nil || geo.IsUnknownLocation(venue.Lat, venue.Lng) {
			continue
		}
		// Corrupt catalog rows with out-of-range coordinates are skipped,
		// not scored.
		if !geo.ValidCoordinates(venue.Lat, venue.Lng) {
			continue
		}

		distance := geo.DistanceMeters(loc.Lat, loc.Lng, venue.Lat, venue.Lng)
		if distance > settings.RadiusMeters {
			continue
		}

		// Live shows are never time-filtered: a show already in progress
		// remains eligible.
		if show.Status != models.ShowStatusLive {
			if show.StartTime.Before(earliest) || show.StartTime.After(latest) {
				continue
			}
		}

		breakdown := e.score(now, loc, settings, show, distance)
		confidence := e.cfg.ProximityWeight*breakdown.Proximity +
			e.cfg.TemporalWeight*breakdown.Temporal -
			e.cfg.AccuracyWeight*breakdown.AccuracyPenalty
		confidence = clamp01(confidence) * 100

		candidates = append(candidates, models.MatchCandidate{
			ShowID:            show.ShowID,
			Status:            show.Status,
			DistanceMeters:    distance,
			TravelTimeMinutes: e.travelTimeMinutes(distance),
			ConfidenceScore:   roundScore(confidence),
			Breakdown:         breakdown,
		})
	}

	// Confidence descending, ties broken by ascending distance. Stable sort
	// plus rounded scores keep float noise from flipping the tie-break.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ConfidenceScore != candidates[j].ConfidenceScore {
			return candidates[i].ConfidenceScore > candidates[j].ConfidenceScore
		}
		return candidates[i].DistanceMeters < candidates[j].DistanceMeters
	})

	return candidates
}

// score computes the unweighted component breakdown for one show.
func (e *Engine) score(now time.Time, loc models.LocationSample, settings models.GeoSettings, show models.ShowRecord, distance float64) models.ScoreBreakdown {
	proximity := 1 - distance/settings.RadiusMeters
	if proximity < 0 {
		proximity = 0
	}

	margin := settings.RadiusMeters - distance
	if margin < accuracyDistanceFloorMeters {
		margin = accuracyDistanceFloorMeters
	}
	penalty := loc.AccuracyMeters / margin
	if penalty > 1 {
		penalty = 1
	}
	if penalty < 0 {
		penalty = 0
	}

	return models.ScoreBreakdown{
		Proximity:       proximity,
		Temporal:        e.temporal(now, settings, show),
		AccuracyPenalty: penalty,
	}
}

// temporal returns the start-time component in [0, 1]. Live shows and shows
// starting within ImminentWindow (or already past their start time) earn the
// full boost; the rest of the window decays linearly to TemporalFloor.
func (e *Engine) temporal(now time.Time, settings models.GeoSettings, show models.ShowRecord) float64 {
	if show.Status == models.ShowStatusLive {
		return 1
	}

	until := show.StartTime.Sub(now)
	if until <= e.cfg.ImminentWindow {
		return 1
	}

	window := time.Duration(settings.TimeWindowHours * float64(time.Hour))
	span := window - e.cfg.ImminentWindow
	if span <= 0 {
		return 1
	}

	frac := float64(until-e.cfg.ImminentWindow) / float64(span)
	if frac > 1 {
		frac = 1
	}
	return 1 - (1-e.cfg.TemporalFloor)*frac
}

// travelTimeMinutes is a straight-line estimate at the configured average
// speed. Explicitly an approximation, not routed.
func (e *Engine) travelTimeMinutes(distanceMeters float64) float64 {
	metersPerMinute := e.cfg.AvgSpeedKmH * 1000 / 60
	return roundScore(distanceMeters / metersPerMinute)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// roundScore rounds to two decimals so equal-scoring candidates compare
// equal and fall through to the distance tie-break.
func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
