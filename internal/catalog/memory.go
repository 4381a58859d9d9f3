// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/stagesense/internal/geo"
	"github.com/tomtom215/stagesense/internal/models"
)

// MemoryCatalog is an in-process ShowCatalog backed by a static entry list.
// Used by tests and by demo mode when no catalog service is configured.
type MemoryCatalog struct {
	mu      sync.RWMutex
	entries []models.CatalogEntry
	now     func() time.Time
}

// NewMemoryCatalog creates a catalog from a fixed entry set.
func NewMemoryCatalog(entries []models.CatalogEntry) *MemoryCatalog {
	return &MemoryCatalog{
		entries: entries,
		now:     time.Now,
	}
}

// SetEntries replaces the catalog contents.
func (c *MemoryCatalog) SetEntries(entries []models.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
}

// FindShowsNear filters the static set the way a real catalog service
// would: attendable status, venue within radius, start time inside the
// window (live shows exempt).
func (c *MemoryCatalog) FindShowsNear(ctx context.Context, lat, lng, radiusMeters, timeWindowHours float64) ([]models.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	window := time.Duration(timeWindowHours * float64(time.Hour))
	earliest := now.Add(-window / 2)
	latest := now.Add(window)

	var out []models.CatalogEntry
	for _, entry := range c.entries {
		if !entry.Show.Status.Attendable() {
			continue
		}
		if entry.Venue == nil {
			continue
		}
		if geo.DistanceMeters(lat, lng, entry.Venue.Lat, entry.Venue.Lng) > radiusMeters {
			continue
		}
		if entry.Show.Status != models.ShowStatusLive {
			if entry.Show.StartTime.Before(earliest) || entry.Show.StartTime.After(latest) {
				continue
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
