// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/stagesense/internal/models"
)

// maxCatalogResponseBytes bounds catalog responses; a dense metro query
// returns a few hundred entries at most.
const maxCatalogResponseBytes = 4 << 20

// HTTPCatalog queries a remote show catalog service:
//
//	GET {base}/shows/near?lat=..&lng=..&radius_meters=..&time_window_hours=..
//
// The service responds with a JSON array of catalog entries. Server-side
// filtering is a pre-filter only; the matching engine re-validates every
// entry.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCatalog creates a client for the catalog service at baseURL.
func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// FindShowsNear implements ShowCatalog.
func (c *HTTPCatalog) FindShowsNear(ctx context.Context, lat, lng, radiusMeters, timeWindowHours float64) ([]models.CatalogEntry, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("radius_meters", strconv.FormatFloat(radiusMeters, 'f', -1, 64))
	q.Set("time_window_hours", strconv.FormatFloat(timeWindowHours, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/shows/near?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog responded %d", resp.StatusCode)
	}

	var entries []models.CatalogEntry
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxCatalogResponseBytes))
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	return entries, nil
}
