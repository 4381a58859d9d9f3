// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/stagesense/internal/catalog"
	"github.com/tomtom215/stagesense/internal/detection"
	"github.com/tomtom215/stagesense/internal/matching"
	"github.com/tomtom215/stagesense/internal/models"
	"github.com/tomtom215/stagesense/internal/policy"
	"github.com/tomtom215/stagesense/internal/realtime"
	"github.com/tomtom215/stagesense/internal/settings"
)

const (
	testLat = 40.7306
	testLng = -73.9866
)

// nullChannel satisfies realtime.Channel with no transport.
type nullChannel struct {
	mu   sync.Mutex
	open map[string]bool
}

func (n *nullChannel) Subscribe(showID string, _ realtime.UpdateFunc) (realtime.Unsubscribe, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.open == nil {
		n.open = make(map[string]bool)
	}
	n.open[showID] = true
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.open, showID)
	}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

type testAPI struct {
	handler    http.Handler
	controller *detection.Controller
}

func newTestAPI(t *testing.T, entries []models.CatalogEntry) *testAPI {
	t.Helper()

	store := settings.NewStore(settings.NewMemoryPersistence(), settings.Bounds{})
	controller := detection.NewController(
		detection.PassiveProvider{},
		catalog.NewMemoryCatalog(entries),
		matching.NewEngine(matching.ScoringConfig{}),
		policy.New(policy.Config{}),
		realtime.NewManager(&nullChannel{}),
		store,
		detection.Config{},
	)
	t.Cleanup(controller.Close)

	router := NewRouter(controller, store, nil, RouterConfig{})
	return &testAPI{handler: router.Setup(), controller: controller}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v\n%s", err, rec.Body.String())
	}
	return rec, env
}

func nearbyLiveShow() []models.CatalogEntry {
	return []models.CatalogEntry{{
		Show: models.ShowRecord{
			ShowID:    "show-1",
			ArtistID:  "artist-1",
			VenueID:   "venue-1",
			StartTime: time.Now().Add(-time.Hour),
			Status:    models.ShowStatusLive,
		},
		Venue: &models.VenueLocation{VenueID: "venue-1", Lat: testLat + 0.0045, Lng: testLng},
	}}
}

func TestDetect_ReturnsScoredSession(t *testing.T) {
	api := newTestAPI(t, nearbyLiveShow())

	rec, env := api.do(t, http.MethodPost, "/api/v1/detect", DetectRequest{
		Lat: testLat, Lng: testLng, AccuracyMeters: 15,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	if !env.Success {
		t.Fatalf("success = false: %+v", env.Error)
	}

	var payload SessionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Session.Status != models.DetectionStatusFound {
		t.Errorf("session status = %q, want found", payload.Session.Status)
	}
	if len(payload.Session.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(payload.Session.Candidates))
	}
	if payload.Action.Kind != policy.ActionAutoNavigate {
		t.Errorf("action = %q, want auto_navigate", payload.Action.Kind)
	}
}

func TestDetect_RejectsBadCoordinates(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, env := api.do(t, http.MethodPost, "/api/v1/detect", DetectRequest{Lat: 99, Lng: 0})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Error == nil || env.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v, want VALIDATION_FAILED", env.Error)
	}
}

func TestDetect_RejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, _ := api.do(t, http.MethodPost, "/api/v1/detect", map[string]interface{}{
		"lat": 1.0, "lng": 1.0, "altitude": 250,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown field", rec.Code)
	}
}

func TestDetectFail_RecordsTerminalState(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, env := api.do(t, http.MethodPost, "/api/v1/detect/fail", DetectFailRequest{
		Kind: models.FailureKindPermissionDenied,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	var payload SessionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Session.Status != models.DetectionStatusPermissionDenied {
		t.Errorf("session status = %q, want permission_denied", payload.Session.Status)
	}
}

func TestDetectFail_RejectsUnknownKind(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, _ := api.do(t, http.MethodPost, "/api/v1/detect/fail", map[string]string{"kind": "eaten_by_bear"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRetry_AcceptedAfterFailure(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, http.MethodPost, "/api/v1/detect/fail", DetectFailRequest{Kind: models.FailureKindTimeout})

	rec, env := api.do(t, http.MethodPost, "/api/v1/retry", nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var payload SessionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Session.Status != models.DetectionStatusDetecting {
		t.Errorf("session status = %q, want detecting", payload.Session.Status)
	}
	if payload.Session.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", payload.Session.RetryCount)
	}
}

func TestSession_InitiallyIdle(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, env := api.do(t, http.MethodGet, "/api/v1/session", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload SessionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Session.Status != models.DetectionStatusIdle {
		t.Errorf("session status = %q, want idle", payload.Session.Status)
	}
}

func TestSettings_RoundTripWithClamping(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, env := api.do(t, http.MethodGet, "/api/v1/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
	var current models.GeoSettings
	if err := json.Unmarshal(env.Data, &current); err != nil {
		t.Fatal(err)
	}
	if current.RadiusMeters != 8046.72 {
		t.Errorf("default radius = %v, want 8046.72", current.RadiusMeters)
	}

	// Below the minimum bound: clamped, not rejected.
	rec, env = api.do(t, http.MethodPut, "/api/v1/settings", map[string]float64{"radius_meters": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	var updated models.GeoSettings
	if err := json.Unmarshal(env.Data, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.RadiusMeters != 100 {
		t.Errorf("radius = %v, want clamped to 100", updated.RadiusMeters)
	}
	if updated.TimeWindowHours != current.TimeWindowHours {
		t.Errorf("partial update touched time window: %v", updated.TimeWindowHours)
	}
}

func TestSettings_RejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, _ := api.do(t, http.MethodPut, "/api/v1/settings", map[string]interface{}{"radius_miles": 5})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown settings field", rec.Code)
	}
}

func TestShowStats_SubscribedAndNot(t *testing.T) {
	api := newTestAPI(t, nearbyLiveShow())
	api.do(t, http.MethodPost, "/api/v1/detect", DetectRequest{Lat: testLat, Lng: testLng, AccuracyMeters: 15})

	rec, env := api.do(t, http.MethodGet, "/api/v1/stats/show-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for subscribed show", rec.Code)
	}
	var stats models.LiveStats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.ShowID != "show-1" {
		t.Errorf("stats show = %q, want show-1", stats.ShowID)
	}

	rec, env = api.do(t, http.MethodGet, "/api/v1/stats/show-unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unsubscribed show", rec.Code)
	}
	if env.Error == nil || env.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", env.Error)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready", "/api/v1/health/"} {
		rec, env := api.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
		if !env.Success {
			t.Errorf("%s success = false", path)
		}
	}
}

func TestRequestID_SetOnResponse(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response missing X-Request-ID")
	}

	// A client-supplied ID is echoed back.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "client-id-1" {
		t.Errorf("request ID = %q, want client-id-1", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", rec.Code)
	}
}
