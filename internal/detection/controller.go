// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package detection implements the location acquisition controller: a
// cancellable, single-flight acquisition with an explicit session state
// machine, driving the matching engine, decision policy, and subscription
// reconciliation whenever a position fix lands.
//
// Session lifecycle:
//
//	idle → detecting → found
//	                 → permission_denied   (terminal; user must retry)
//	                 → timeout             (retryable)
//	                 → error               (retryable)
//
// All acquisition failures surface as session status for the UI to render.
// Catalog and subscription failures are absorbed and degrade gracefully:
// a failed show lookup must never crash the detection flow.
package detection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/stagesense/internal/catalog"
	"github.com/tomtom215/stagesense/internal/logging"
	"github.com/tomtom215/stagesense/internal/matching"
	"github.com/tomtom215/stagesense/internal/metrics"
	"github.com/tomtom215/stagesense/internal/models"
	"github.com/tomtom215/stagesense/internal/policy"
	"github.com/tomtom215/stagesense/internal/realtime"
	"github.com/tomtom215/stagesense/internal/settings"
)

// AcquireOptions configures one acquisition request.
type AcquireOptions struct {
	// EnableHighAccuracy requests a high-accuracy fix from the platform.
	EnableHighAccuracy bool

	// Timeout bounds the acquisition. Expiry is a first-class terminal
	// state (timeout), not a generic cancellation.
	Timeout time.Duration

	// MaxAge permits the platform to return a cached fix no older than
	// this. The controller itself never caches samples across a session.
	MaxAge time.Duration
}

// LocationProvider acquires the device position. Supplied by the platform;
// failures wrap the sentinels in errors.go.
type LocationProvider interface {
	CurrentPosition(ctx context.Context, opts AcquireOptions) (models.LocationSample, error)
}

// Observer receives session snapshots as the state machine advances.
type Observer func(models.DetectionSession)

// Config holds controller defaults.
type Config struct {
	// AcquireTimeout is the default acquisition timeout.
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`

	// MaxSampleAge is the default platform-level cache allowance.
	MaxSampleAge time.Duration `koanf:"max_sample_age"`

	// CatalogQueryTimeout bounds the show lookup inside a matching pass.
	CatalogQueryTimeout time.Duration `koanf:"catalog_query_timeout"`
}

// DefaultConfig returns sensible acquisition defaults.
func DefaultConfig() Config {
	return Config{
		AcquireTimeout:      10 * time.Second,
		MaxSampleAge:        30 * time.Second,
		CatalogQueryTimeout: 5 * time.Second,
	}
}

// Controller is the detection session state machine. One acquisition may
// be in flight at a time; a new Detect call cancels the previous one
// before starting.
type Controller struct {
	provider LocationProvider
	catalog  catalog.ShowCatalog
	matcher  *matching.Engine
	policy   *policy.Policy
	subs     *realtime.Manager
	store    *settings.Store
	cfg      Config

	mu         sync.Mutex
	session    models.DetectionSession
	lastAction policy.Action
	observers  []Observer

	// generation identifies the current acquisition; a finished attempt
	// whose generation is stale was superseded and its result discarded.
	generation uint64
	cancel     context.CancelFunc

	now func() time.Time
}

// NewController wires the detection flow together.
func NewController(
	provider LocationProvider,
	cat catalog.ShowCatalog,
	matcher *matching.Engine,
	pol *policy.Policy,
	subs *realtime.Manager,
	store *settings.Store,
	cfg Config,
) *Controller {
	def := DefaultConfig()
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.MaxSampleAge <= 0 {
		cfg.MaxSampleAge = def.MaxSampleAge
	}
	if cfg.CatalogQueryTimeout <= 0 {
		cfg.CatalogQueryTimeout = def.CatalogQueryTimeout
	}
	return &Controller{
		provider: provider,
		catalog:  cat,
		matcher:  matcher,
		policy:   pol,
		subs:     subs,
		store:    store,
		cfg:      cfg,
		session:  models.DetectionSession{Status: models.DetectionStatusIdle},
		now:      time.Now,
	}
}

// OnUpdate registers an observer for session snapshots. Observers are
// invoked outside the controller lock and may call Session or Action.
func (c *Controller) OnUpdate(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Session returns the current session snapshot.
func (c *Controller) Session() models.DetectionSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Action returns the latest decision.
func (c *Controller) Action() policy.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAction
}

// Stats exposes the merged live stats for a subscribed show.
func (c *Controller) Stats(showID string) (models.LiveStats, bool) {
	return c.subs.Stats(showID)
}

// Detect starts a fresh detection session. Any in-flight acquisition is
// cancelled first (single-flight). The acquisition runs asynchronously;
// progress is delivered through observers.
func (c *Controller) Detect(ctx context.Context) {
	c.begin(ctx, false)
}

// Retry re-enters detecting and increments the retry count. Retries are
// always user-initiated; the controller never retries on its own, and the
// retry count is surfaced but never bounded.
func (c *Controller) Retry(ctx context.Context) {
	c.mu.Lock()
	retryable := c.session.Status.Retryable()
	c.mu.Unlock()
	if !retryable {
		logging.Debug().Str("status", string(c.Session().Status)).Msg("retry ignored in non-retryable state")
		return
	}
	metrics.DetectionRetries.Inc()
	c.begin(ctx, true)
}

// begin transitions to detecting and launches the acquisition goroutine.
func (c *Controller) begin(ctx context.Context, isRetry bool) {
	c.mu.Lock()

	// Cancel any in-flight acquisition before starting a new one.
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation

	acquireCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if isRetry {
		c.session.RetryCount++
	} else {
		c.session = models.DetectionSession{
			ID:         uuid.New().String(),
			RetryCount: 0,
		}
	}
	c.session.Status = models.DetectionStatusDetecting
	c.session.FailureKind = ""
	c.session.UpdatedAt = c.now()

	userSettings := c.store.Get()
	opts := AcquireOptions{
		EnableHighAccuracy: userSettings.HighAccuracy,
		Timeout:            c.cfg.AcquireTimeout,
		MaxAge:             c.cfg.MaxSampleAge,
	}

	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snapshot)

	logging.Info().
		Str("session_id", snapshot.ID).
		Bool("retry", isRetry).
		Int("retry_count", snapshot.RetryCount).
		Msg("location acquisition started")

	go c.acquire(acquireCtx, gen, opts)
}

// acquire runs one acquisition attempt and applies its outcome.
func (c *Controller) acquire(ctx context.Context, gen uint64, opts AcquireOptions) {
	acquireCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	sample, err := c.provider.CurrentPosition(acquireCtx, opts)
	if err != nil {
		c.fail(ctx, gen, err)
		return
	}
	c.Found(gen, sample)
}

// Found applies a successful fix: the session moves to found and the
// matching pass runs immediately. Exposed for callers whose platform API
// lives out of process (the device pushes the fix instead of the provider
// pulling it); gen 0 means "supersede whatever is in flight".
func (c *Controller) Found(gen uint64, sample models.LocationSample) {
	c.mu.Lock()
	if gen != 0 && gen != c.generation {
		c.mu.Unlock()
		return // superseded
	}
	if gen == 0 {
		if c.cancel != nil {
			c.cancel()
		}
		c.generation++
		if c.session.ID == "" {
			c.session.ID = uuid.New().String()
		}
	}

	c.session.Status = models.DetectionStatusFound
	c.session.Location = &sample
	c.session.FailureKind = ""
	c.session.UpdatedAt = c.now()
	userSettings := c.store.Get()
	c.mu.Unlock()

	metrics.DetectionOutcomes.WithLabelValues(string(models.DetectionStatusFound)).Inc()
	logging.Info().
		Float64("accuracy_m", sample.AccuracyMeters).
		Msg("position acquired")

	c.runMatch(sample, userSettings)
}

// runMatch queries the catalog, scores candidates, decides, and reconciles
// subscriptions. Catalog failure degrades to an empty candidate list.
func (c *Controller) runMatch(sample models.LocationSample, userSettings models.GeoSettings) {
	start := c.now()

	queryCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CatalogQueryTimeout)
	defer cancel()

	entries, err := c.catalog.FindShowsNear(queryCtx, sample.Lat, sample.Lng, userSettings.RadiusMeters, userSettings.TimeWindowHours)
	if err != nil {
		logging.Warn().Err(err).Msg("catalog query failed, degrading to empty candidate list")
		entries = nil
	}

	candidates := c.matcher.Match(c.now(), sample, userSettings, entries)
	metrics.ObserveMatch(start, len(candidates))

	action := c.policy.Decide(candidates)
	metrics.Decisions.WithLabelValues(string(action.Kind)).Inc()

	c.subs.Reconcile(candidates)

	c.mu.Lock()
	c.session.Candidates = candidates
	c.session.UpdatedAt = c.now()
	c.lastAction = action
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	logging.Info().
		Int("candidates", len(candidates)).
		Str("decision", string(action.Kind)).
		Msg("matching pass completed")
	c.publish(snapshot)
}

// ReportFailure records an acquisition failure reported from out of
// process (the device-side platform API), mapping the kind onto the
// session state machine.
func (c *Controller) ReportFailure(kind models.FailureKind) {
	switch kind {
	case models.FailureKindPermissionDenied:
		c.fail(context.Background(), 0, ErrPermissionDenied)
	case models.FailureKindTimeout:
		c.fail(context.Background(), 0, ErrTimeout)
	default:
		c.fail(context.Background(), 0, ErrUnavailable)
	}
}

// fail applies a failed acquisition outcome. gen 0 supersedes any
// in-flight attempt.
func (c *Controller) fail(ctx context.Context, gen uint64, err error) {
	c.mu.Lock()
	if gen != 0 && gen != c.generation {
		c.mu.Unlock()
		return // superseded
	}
	if gen == 0 {
		if c.cancel != nil {
			c.cancel()
		}
		c.generation++
		if c.session.ID == "" {
			c.session.ID = uuid.New().String()
		}
	}

	// A cancelled parent context means the caller abandoned the attempt
	// (new Detect or Close); the successor owns the session now.
	if gen != 0 && ctx.Err() != nil && !errors.Is(err, ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		c.mu.Unlock()
		return
	}

	var status models.DetectionStatus
	var kind models.FailureKind
	switch {
	case errors.Is(err, ErrPermissionDenied):
		status = models.DetectionStatusPermissionDenied
		kind = models.FailureKindPermissionDenied
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status = models.DetectionStatusTimeout
		kind = models.FailureKindTimeout
	default:
		status = models.DetectionStatusError
		kind = models.FailureKindUnavailable
	}

	c.session.Status = status
	c.session.FailureKind = kind
	c.session.Location = nil
	c.session.Candidates = nil
	c.session.UpdatedAt = c.now()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	metrics.DetectionOutcomes.WithLabelValues(string(status)).Inc()
	logging.Warn().Err(err).Str("status", string(status)).Msg("location acquisition failed")

	// A failed session has no candidates; drop any subscriptions left from
	// a previous pass.
	c.subs.Reconcile(nil)
	c.publish(snapshot)
}

// Close ends the detection session: the in-flight acquisition is cancelled
// and every subscription is torn down unconditionally.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	c.session = models.DetectionSession{Status: models.DetectionStatusIdle}
	c.lastAction = policy.Action{}
	c.mu.Unlock()

	c.subs.Teardown()
	logging.Info().Msg("detection session closed")
}

// snapshotLocked copies the session for publication. Must be called with
// the lock held.
func (c *Controller) snapshotLocked() models.DetectionSession {
	snapshot := c.session
	if c.session.Location != nil {
		loc := *c.session.Location
		snapshot.Location = &loc
	}
	snapshot.Candidates = append([]models.MatchCandidate(nil), c.session.Candidates...)
	return snapshot
}

// publish fans a snapshot out to observers, outside the lock.
func (c *Controller) publish(snapshot models.DetectionSession) {
	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}
