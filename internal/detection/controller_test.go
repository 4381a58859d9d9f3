// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/stagesense/internal/catalog"
	"github.com/tomtom215/stagesense/internal/matching"
	"github.com/tomtom215/stagesense/internal/models"
	"github.com/tomtom215/stagesense/internal/policy"
	"github.com/tomtom215/stagesense/internal/realtime"
	"github.com/tomtom215/stagesense/internal/settings"
)

// Test geometry: user in the East Village, venues at ~500m and ~2000m.
const (
	testLat = 40.7306
	testLng = -73.9866
)

// fakeProvider returns scripted results per acquisition attempt.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, attempt int, opts AcquireOptions) (models.LocationSample, error)
}

func (p *fakeProvider) CurrentPosition(ctx context.Context, opts AcquireOptions) (models.LocationSample, error) {
	p.mu.Lock()
	p.calls++
	attempt := p.calls
	fn := p.fn
	p.mu.Unlock()
	return fn(ctx, attempt, opts)
}

func goodFix() models.LocationSample {
	return models.LocationSample{Lat: testLat, Lng: testLng, AccuracyMeters: 10, CapturedAt: time.Now()}
}

func fixedProvider(sample models.LocationSample) *fakeProvider {
	return &fakeProvider{fn: func(context.Context, int, AcquireOptions) (models.LocationSample, error) {
		return sample, nil
	}}
}

func failingProvider(err error) *fakeProvider {
	return &fakeProvider{fn: func(context.Context, int, AcquireOptions) (models.LocationSample, error) {
		return models.LocationSample{}, err
	}}
}

// stubChannel satisfies realtime.Channel without a transport.
type stubChannel struct {
	mu   sync.Mutex
	open map[string]bool
}

func newStubChannel() *stubChannel {
	return &stubChannel{open: make(map[string]bool)}
}

func (s *stubChannel) Subscribe(showID string, _ realtime.UpdateFunc) (realtime.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[showID] = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.open, showID)
	}, nil
}

func (s *stubChannel) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// failingCatalog simulates an unreachable show service.
type failingCatalog struct{}

func (failingCatalog) FindShowsNear(context.Context, float64, float64, float64, float64) ([]models.CatalogEntry, error) {
	return nil, errors.New("catalog unreachable")
}

func liveEntry(showID string, latOffset, lngOffset float64) models.CatalogEntry {
	return models.CatalogEntry{
		Show: models.ShowRecord{
			ShowID:    showID,
			ArtistID:  "artist-" + showID,
			VenueID:   "venue-" + showID,
			StartTime: time.Now().Add(-30 * time.Minute),
			Status:    models.ShowStatusLive,
		},
		Venue: &models.VenueLocation{
			VenueID: "venue-" + showID,
			Lat:     testLat + latOffset,
			Lng:     testLng + lngOffset,
		},
	}
}

type fixture struct {
	controller *Controller
	channel    *stubChannel
	snapshots  chan models.DetectionSession
}

func newFixture(t *testing.T, provider LocationProvider, cat catalog.ShowCatalog) *fixture {
	t.Helper()

	channel := newStubChannel()
	store := settings.NewStore(settings.NewMemoryPersistence(), settings.Bounds{})
	c := NewController(
		provider,
		cat,
		matching.NewEngine(matching.ScoringConfig{}),
		policy.New(policy.Config{}),
		realtime.NewManager(channel),
		store,
		Config{AcquireTimeout: 2 * time.Second},
	)

	f := &fixture{
		controller: c,
		channel:    channel,
		snapshots:  make(chan models.DetectionSession, 32),
	}
	c.OnUpdate(func(s models.DetectionSession) {
		f.snapshots <- s
	})
	return f
}

// waitForStatus consumes snapshots until one matches the wanted status.
func (f *fixture) waitForStatus(t *testing.T, want models.DetectionStatus) models.DetectionSession {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-f.snapshots:
			if s.Status == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q (current: %q)", want, f.controller.Session().Status)
		}
	}
}

func TestDetect_SingleHighConfidenceMatchAutoNavigates(t *testing.T) {
	cat := catalog.NewMemoryCatalog([]models.CatalogEntry{
		liveEntry("show-near", 0.0045, 0), // ~500m north
	})
	f := newFixture(t, fixedProvider(goodFix()), cat)
	defer f.controller.Close()

	f.controller.Detect(context.Background())

	session := f.waitForStatus(t, models.DetectionStatusFound)
	if len(session.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(session.Candidates))
	}
	if session.Location == nil {
		t.Fatal("found session has no location")
	}

	action := f.controller.Action()
	if action.Kind != policy.ActionAutoNavigate {
		t.Errorf("action = %q, want auto_navigate (score %.2f)", action.Kind, session.Candidates[0].ConfidenceScore)
	}
	if action.ShowID != "show-near" {
		t.Errorf("action show = %q, want show-near", action.ShowID)
	}
	if action.GraceDelay <= 0 {
		t.Error("auto_navigate action carries no grace delay")
	}

	if got := f.channel.openCount(); got != 1 {
		t.Errorf("open subscriptions = %d, want 1", got)
	}
}

func TestDetect_MultipleCandidatesPresent(t *testing.T) {
	cat := catalog.NewMemoryCatalog([]models.CatalogEntry{
		liveEntry("show-a", 0.0045, 0),
		liveEntry("show-b", 0.018, 0), // ~2000m, still comfortably inside the radius
	})
	f := newFixture(t, fixedProvider(goodFix()), cat)
	defer f.controller.Close()

	f.controller.Detect(context.Background())

	session := f.waitForStatus(t, models.DetectionStatusFound)
	if len(session.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(session.Candidates))
	}
	if session.Candidates[0].ShowID != "show-a" {
		t.Errorf("top candidate = %q, want show-a (nearer show must rank first)", session.Candidates[0].ShowID)
	}

	if action := f.controller.Action(); action.Kind != policy.ActionPresent {
		t.Errorf("action = %q, want present: two candidates never auto-navigate", action.Kind)
	}
	if got := f.channel.openCount(); got != 2 {
		t.Errorf("open subscriptions = %d, want 2 (one per candidate)", got)
	}
}

func TestDetect_PermissionDeniedIsTerminal(t *testing.T) {
	provider := failingProvider(fmt.Errorf("platform: %w", ErrPermissionDenied))
	f := newFixture(t, provider, catalog.NewMemoryCatalog(nil))
	defer f.controller.Close()

	f.controller.Detect(context.Background())

	session := f.waitForStatus(t, models.DetectionStatusPermissionDenied)
	if session.FailureKind != models.FailureKindPermissionDenied {
		t.Errorf("failure kind = %q, want permission_denied", session.FailureKind)
	}
	if session.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0: denial is never retried automatically", session.RetryCount)
	}

	// Give any stray automatic retry a moment to show itself.
	time.Sleep(50 * time.Millisecond)
	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	if calls != 1 {
		t.Errorf("provider called %d times, want 1", calls)
	}
}

func TestDetect_TimeoutThenRetrySucceeds(t *testing.T) {
	provider := &fakeProvider{fn: func(ctx context.Context, attempt int, _ AcquireOptions) (models.LocationSample, error) {
		if attempt == 1 {
			<-ctx.Done()
			return models.LocationSample{}, ctx.Err()
		}
		return goodFix(), nil
	}}
	cat := catalog.NewMemoryCatalog([]models.CatalogEntry{liveEntry("show-near", 0.0045, 0)})

	channel := newStubChannel()
	store := settings.NewStore(settings.NewMemoryPersistence(), settings.Bounds{})
	c := NewController(
		provider, cat,
		matching.NewEngine(matching.ScoringConfig{}),
		policy.New(policy.Config{}),
		realtime.NewManager(channel),
		store,
		Config{AcquireTimeout: 30 * time.Millisecond},
	)
	defer c.Close()

	f := &fixture{controller: c, channel: channel, snapshots: make(chan models.DetectionSession, 32)}
	c.OnUpdate(func(s models.DetectionSession) { f.snapshots <- s })

	c.Detect(context.Background())
	session := f.waitForStatus(t, models.DetectionStatusTimeout)
	if session.FailureKind != models.FailureKindTimeout {
		t.Errorf("failure kind = %q, want timeout", session.FailureKind)
	}
	sessionID := session.ID

	c.Retry(context.Background())
	session = f.waitForStatus(t, models.DetectionStatusFound)
	if session.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", session.RetryCount)
	}
	if session.ID != sessionID {
		t.Errorf("retry changed the session ID: %q -> %q", sessionID, session.ID)
	}
	if len(session.Candidates) != 1 {
		t.Errorf("candidates after retry = %d, want 1", len(session.Candidates))
	}
}

func TestRetry_IgnoredWhileDetecting(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{fn: func(ctx context.Context, _ int, _ AcquireOptions) (models.LocationSample, error) {
		select {
		case <-release:
			return goodFix(), nil
		case <-ctx.Done():
			return models.LocationSample{}, ctx.Err()
		}
	}}
	f := newFixture(t, provider, catalog.NewMemoryCatalog(nil))
	defer f.controller.Close()

	f.controller.Detect(context.Background())
	f.waitForStatus(t, models.DetectionStatusDetecting)

	f.controller.Retry(context.Background())
	if got := f.controller.Session().RetryCount; got != 0 {
		t.Errorf("retry count = %d, want 0: retry must be ignored mid-acquisition", got)
	}

	close(release)
	f.waitForStatus(t, models.DetectionStatusFound)
}

func TestDetect_NewDetectSupersedesInFlight(t *testing.T) {
	firstStarted := make(chan struct{})
	provider := &fakeProvider{fn: func(ctx context.Context, attempt int, _ AcquireOptions) (models.LocationSample, error) {
		if attempt == 1 {
			close(firstStarted)
			<-ctx.Done()
			return models.LocationSample{}, ctx.Err()
		}
		return goodFix(), nil
	}}
	cat := catalog.NewMemoryCatalog([]models.CatalogEntry{liveEntry("show-near", 0.0045, 0)})
	f := newFixture(t, provider, cat)
	defer f.controller.Close()

	f.controller.Detect(context.Background())
	<-firstStarted
	f.controller.Detect(context.Background())

	session := f.waitForStatus(t, models.DetectionStatusFound)
	if session.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0: a fresh detect resets the session", session.RetryCount)
	}

	// The cancelled first attempt resolves to context.Canceled; its stale
	// generation must not disturb the settled session.
	time.Sleep(50 * time.Millisecond)
	if got := f.controller.Session().Status; got != models.DetectionStatusFound {
		t.Errorf("status = %q, want found: superseded attempt leaked its failure", got)
	}
}

func TestDetect_CatalogFailureDegradesToEmpty(t *testing.T) {
	f := newFixture(t, fixedProvider(goodFix()), failingCatalog{})
	defer f.controller.Close()

	f.controller.Detect(context.Background())

	session := f.waitForStatus(t, models.DetectionStatusFound)
	if len(session.Candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(session.Candidates))
	}
	if action := f.controller.Action(); action.Kind != policy.ActionEmpty {
		t.Errorf("action = %q, want empty: catalog failure must degrade, not error", action.Kind)
	}
}

// stalledCatalog blocks every query until its context expires.
type stalledCatalog struct{}

func (stalledCatalog) FindShowsNear(ctx context.Context, _, _, _, _ float64) ([]models.CatalogEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDetect_CatalogQueryTimeoutIsConfigurable(t *testing.T) {
	channel := newStubChannel()
	store := settings.NewStore(settings.NewMemoryPersistence(), settings.Bounds{})
	c := NewController(
		fixedProvider(goodFix()), stalledCatalog{},
		matching.NewEngine(matching.ScoringConfig{}),
		policy.New(policy.Config{}),
		realtime.NewManager(channel),
		store,
		Config{AcquireTimeout: 2 * time.Second, CatalogQueryTimeout: 25 * time.Millisecond},
	)
	defer c.Close()

	f := &fixture{controller: c, channel: channel, snapshots: make(chan models.DetectionSession, 32)}
	c.OnUpdate(func(s models.DetectionSession) { f.snapshots <- s })

	start := time.Now()
	c.Detect(context.Background())

	session := f.waitForStatus(t, models.DetectionStatusFound)
	if len(session.Candidates) != 0 {
		t.Errorf("candidates = %d, want 0: stalled catalog must degrade to empty", len(session.Candidates))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("matching pass took %v, configured catalog timeout was 25ms", elapsed)
	}
}

func TestNewController_FillsCatalogQueryTimeout(t *testing.T) {
	f := newFixture(t, fixedProvider(goodFix()), catalog.NewMemoryCatalog(nil))
	defer f.controller.Close()

	if got := f.controller.cfg.CatalogQueryTimeout; got != DefaultConfig().CatalogQueryTimeout {
		t.Errorf("CatalogQueryTimeout = %v, want default %v", got, DefaultConfig().CatalogQueryTimeout)
	}
}

func TestReportFailure_MapsKindsOntoSession(t *testing.T) {
	tests := []struct {
		kind       models.FailureKind
		wantStatus models.DetectionStatus
	}{
		{models.FailureKindPermissionDenied, models.DetectionStatusPermissionDenied},
		{models.FailureKindTimeout, models.DetectionStatusTimeout},
		{models.FailureKindUnavailable, models.DetectionStatusError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := newFixture(t, fixedProvider(goodFix()), catalog.NewMemoryCatalog(nil))
			defer f.controller.Close()

			f.controller.ReportFailure(tt.kind)

			session := f.waitForStatus(t, tt.wantStatus)
			if session.FailureKind != tt.kind {
				t.Errorf("failure kind = %q, want %q", session.FailureKind, tt.kind)
			}
			if session.ID == "" {
				t.Error("reported failure left the session without an ID")
			}
		})
	}
}

func TestFound_DevicePushRunsMatch(t *testing.T) {
	cat := catalog.NewMemoryCatalog([]models.CatalogEntry{liveEntry("show-near", 0.0045, 0)})
	f := newFixture(t, fixedProvider(goodFix()), cat)
	defer f.controller.Close()

	// The device pushes the fix directly; no provider acquisition ran.
	f.controller.Found(0, goodFix())

	session := f.waitForStatus(t, models.DetectionStatusFound)
	if len(session.Candidates) != 1 {
		t.Errorf("candidates = %d, want 1", len(session.Candidates))
	}
	if f.channel.openCount() != 1 {
		t.Errorf("open subscriptions = %d, want 1", f.channel.openCount())
	}
}

func TestClose_TearsDownSubscriptions(t *testing.T) {
	cat := catalog.NewMemoryCatalog([]models.CatalogEntry{
		liveEntry("show-a", 0.0045, 0),
		liveEntry("show-b", 0.018, 0),
	})
	f := newFixture(t, fixedProvider(goodFix()), cat)

	f.controller.Detect(context.Background())
	f.waitForStatus(t, models.DetectionStatusFound)
	if f.channel.openCount() == 0 {
		t.Fatal("no subscriptions opened before close")
	}

	f.controller.Close()

	if got := f.channel.openCount(); got != 0 {
		t.Errorf("open subscriptions after close = %d, want 0", got)
	}
	if got := f.controller.Session().Status; got != models.DetectionStatusIdle {
		t.Errorf("status after close = %q, want idle", got)
	}
}

func TestFailure_DropsPreviousSubscriptions(t *testing.T) {
	cat := catalog.NewMemoryCatalog([]models.CatalogEntry{liveEntry("show-near", 0.0045, 0)})
	provider := &fakeProvider{fn: func(ctx context.Context, attempt int, _ AcquireOptions) (models.LocationSample, error) {
		if attempt == 1 {
			return goodFix(), nil
		}
		return models.LocationSample{}, ErrUnavailable
	}}
	f := newFixture(t, provider, cat)
	defer f.controller.Close()

	f.controller.Detect(context.Background())
	f.waitForStatus(t, models.DetectionStatusFound)
	if f.channel.openCount() != 1 {
		t.Fatalf("open subscriptions = %d, want 1", f.channel.openCount())
	}

	f.controller.Retry(context.Background())
	f.waitForStatus(t, models.DetectionStatusError)
	if got := f.channel.openCount(); got != 0 {
		t.Errorf("open subscriptions after failed retry = %d, want 0", got)
	}
}
