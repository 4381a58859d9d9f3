// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package catalog defines the show catalog query seam and the resilience
// wrapper around it. The engine does not own show or venue data: the
// catalog is an external collaborator, and a failed lookup must never
// crash the detection flow.
package catalog

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/stagesense/internal/logging"
	"github.com/tomtom215/stagesense/internal/metrics"
	"github.com/tomtom215/stagesense/internal/models"
)

// ErrQueryFailed wraps any catalog query failure. Callers degrade to an
// empty candidate list rather than propagating it.
var ErrQueryFailed = errors.New("catalog query failed")

// ShowCatalog returns shows near a position. Implementations are expected
// to pre-filter to "active or soon" shows server-side; the matching engine
// re-validates every entry client-side regardless.
type ShowCatalog interface {
	FindShowsNear(ctx context.Context, lat, lng, radiusMeters, timeWindowHours float64) ([]models.CatalogEntry, error)
}

// BreakerConfig configures the catalog circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	FailureThreshold uint32 `koanf:"failure_threshold"`

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration `koanf:"timeout"`
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
	}
}

// ResilientCatalog decorates a ShowCatalog with a circuit breaker.
// Uses the gobreaker v2 generic API.
type ResilientCatalog struct {
	inner   ShowCatalog
	breaker *gobreaker.CircuitBreaker[[]models.CatalogEntry]
}

// NewResilientCatalog wraps a catalog with breaker protection.
func NewResilientCatalog(inner ShowCatalog, cfg BreakerConfig) *ResilientCatalog {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerConfig().Timeout
	}

	settings := gobreaker.Settings{
		Name:    "show-catalog",
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("catalog breaker state change")
			metrics.CatalogBreakerTransitions.WithLabelValues(to.String()).Inc()
		},
	}

	return &ResilientCatalog{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[[]models.CatalogEntry](settings),
	}
}

// FindShowsNear queries the inner catalog through the breaker. Any failure,
// including an open breaker, is reported as ErrQueryFailed.
func (c *ResilientCatalog) FindShowsNear(ctx context.Context, lat, lng, radiusMeters, timeWindowHours float64) ([]models.CatalogEntry, error) {
	entries, err := c.breaker.Execute(func() ([]models.CatalogEntry, error) {
		return c.inner.FindShowsNear(ctx, lat, lng, radiusMeters, timeWindowHours)
	})
	if err != nil {
		metrics.CatalogQueryFailures.Inc()
		return nil, errors.Join(ErrQueryFailed, err)
	}
	return entries, nil
}

// State returns the breaker state string for health reporting.
func (c *ResilientCatalog) State() string {
	return c.breaker.State().String()
}
