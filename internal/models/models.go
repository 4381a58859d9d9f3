// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package models

import (
	"time"
)

// ShowStatus is the lifecycle state of a scheduled show.
type ShowStatus string

const (
	ShowStatusUpcoming  ShowStatus = "upcoming"
	ShowStatusLive      ShowStatus = "live"
	ShowStatusCompleted ShowStatus = "completed"
	ShowStatusCancelled ShowStatus = "cancelled"
)

// Attendable reports whether a show can still be attended.
// Completed and cancelled shows are never surfaced as candidates.
func (s ShowStatus) Attendable() bool {
	return s == ShowStatusUpcoming || s == ShowStatusLive
}

// LocationSample is a single position fix produced by the location provider.
// Samples are immutable; a newer sample supersedes an older one.
type LocationSample struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// GeoSettings holds the user-configurable matching parameters.
// Values are validated and clamped by the settings store before persisting.
type GeoSettings struct {
	// RadiusMeters is the search radius around the user's position.
	RadiusMeters float64 `json:"radius_meters" validate:"gt=0"`

	// TimeWindowHours bounds show start times to
	// [now - window/2, now + window]. Live shows are exempt.
	TimeWindowHours float64 `json:"time_window_hours" validate:"gt=0"`

	// HighAccuracy requests a high-accuracy fix from the platform.
	HighAccuracy bool `json:"high_accuracy"`

	// AutoDetect enables detection on flow entry without a manual trigger.
	AutoDetect bool `json:"auto_detect"`
}

// VenueLocation is the geographic position of a venue.
// Supplied by the external show catalog; read-only to this engine.
type VenueLocation struct {
	VenueID string  `json:"venue_id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// ShowRecord is a scheduled show as supplied by the external catalog.
type ShowRecord struct {
	ShowID    string     `json:"show_id"`
	ArtistID  string     `json:"artist_id"`
	VenueID   string     `json:"venue_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Status    ShowStatus `json:"status"`
}

// CatalogEntry pairs a show with its venue location, as returned by the
// catalog query. Entries whose venue has no known location are skipped by
// the matcher.
type CatalogEntry struct {
	Show  ShowRecord     `json:"show"`
	Venue *VenueLocation `json:"venue,omitempty"`
}

// ScoreBreakdown exposes the individual confidence components for UI display
// and debugging. All values are in [0, 1] before weighting.
type ScoreBreakdown struct {
	Proximity       float64 `json:"proximity"`
	Temporal        float64 `json:"temporal"`
	AccuracyPenalty float64 `json:"accuracy_penalty"`
}

// MatchCandidate is a scored show the user is plausibly attending.
// Computed fresh on every matching pass; never persisted.
type MatchCandidate struct {
	ShowID            string         `json:"show_id"`
	Status            ShowStatus     `json:"status"`
	DistanceMeters    float64        `json:"distance_meters"`
	TravelTimeMinutes float64        `json:"travel_time_minutes"`
	ConfidenceScore   float64        `json:"confidence_score"`
	Breakdown         ScoreBreakdown `json:"score_breakdown"`
}

// DetectionStatus is the state of a detection session.
type DetectionStatus string

const (
	DetectionStatusIdle             DetectionStatus = "idle"
	DetectionStatusDetecting        DetectionStatus = "detecting"
	DetectionStatusFound            DetectionStatus = "found"
	DetectionStatusPermissionDenied DetectionStatus = "permission_denied"
	DetectionStatusTimeout          DetectionStatus = "timeout"
	DetectionStatusError            DetectionStatus = "error"
)

// Retryable reports whether a manual retry is permitted from this status.
// Permission denial also allows a manual retry (the user may have granted
// access out of band), but is never retried automatically.
func (s DetectionStatus) Retryable() bool {
	switch s {
	case DetectionStatusPermissionDenied, DetectionStatusTimeout, DetectionStatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the session has settled for this attempt.
func (s DetectionStatus) Terminal() bool {
	switch s {
	case DetectionStatusFound, DetectionStatusPermissionDenied, DetectionStatusTimeout, DetectionStatusError:
		return true
	default:
		return false
	}
}

// FailureKind classifies a location acquisition failure.
type FailureKind string

const (
	FailureKindPermissionDenied FailureKind = "permission_denied"
	FailureKindTimeout          FailureKind = "timeout"
	FailureKindUnavailable      FailureKind = "unavailable"
)

// DetectionSession is a snapshot of the detection state machine.
// Created when detection starts, mutated by the controller and matching
// engine, discarded when the user leaves the detection flow.
type DetectionSession struct {
	ID          string           `json:"id"`
	Status      DetectionStatus  `json:"status"`
	Location    *LocationSample  `json:"location,omitempty"`
	Candidates  []MatchCandidate `json:"candidates"`
	RetryCount  int              `json:"retry_count"`
	FailureKind FailureKind      `json:"failure_kind,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// LiveStats is the merged live-stat state for a subscribed show.
type LiveStats struct {
	ShowID             string    `json:"show_id"`
	DonationTotalCents int64     `json:"donation_total_cents"`
	DonationCount      int64     `json:"donation_count"`
	AttendeeCount      int64     `json:"attendee_count"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// LiveStatsDelta is a partial update to a show's live stats. Nil fields
// leave the current value untouched.
type LiveStatsDelta struct {
	ShowID             string `json:"show_id"`
	DonationTotalCents *int64 `json:"donation_total_cents,omitempty"`
	DonationCount      *int64 `json:"donation_count,omitempty"`
	AttendeeCount      *int64 `json:"attendee_count,omitempty"`
}

// Apply merges the delta into the stats in place and stamps the update time.
func (s *LiveStats) Apply(d LiveStatsDelta, now time.Time) {
	if d.DonationTotalCents != nil {
		s.DonationTotalCents = *d.DonationTotalCents
	}
	if d.DonationCount != nil {
		s.DonationCount = *d.DonationCount
	}
	if d.AttendeeCount != nil {
		s.AttendeeCount = *d.AttendeeCount
	}
	s.UpdatedAt = now
}
