// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package realtime manages live per-show update subscriptions. The manager
// reconciles its open subscription set against the current candidate set
// and merges incoming stat deltas into per-show state; the Channel
// interface abstracts the transport delivering those deltas.
package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/stagesense/internal/logging"
	"github.com/tomtom215/stagesense/internal/metrics"
	"github.com/tomtom215/stagesense/internal/models"
)

// UpdateFunc receives a live-stat delta for a subscribed show.
type UpdateFunc func(models.LiveStatsDelta)

// Unsubscribe closes one subscription. Safe to call more than once.
type Unsubscribe func()

// Channel delivers asynchronous partial updates to a show's live stats.
// Supplied externally; the websocket implementation in this package is one
// backend, test doubles are another. Implementations must deliver updates
// asynchronously, never from within Subscribe itself.
type Channel interface {
	Subscribe(showID string, onUpdate UpdateFunc) (Unsubscribe, error)
}

// subscription is the handle for one open show channel.
type subscription struct {
	showID      string
	unsubscribe Unsubscribe
}

// Manager owns the set of open subscriptions. There is a single caller
// driving mutation (the reconciliation step), so operations are idempotent
// rather than requiring external coordination; the internal lock only
// guards against update callbacks racing a reconcile.
type Manager struct {
	channel Channel

	mu    sync.Mutex
	subs  map[string]*subscription
	stats map[string]*models.LiveStats
	now   func() time.Time
}

// NewManager creates a manager over the given channel.
func NewManager(channel Channel) *Manager {
	return &Manager{
		channel: channel,
		subs:    make(map[string]*subscription),
		stats:   make(map[string]*models.LiveStats),
		now:     time.Now,
	}
}

// Reconcile diffs the open subscription set against the candidate set:
// missing shows are subscribed, stale ones are unsubscribed and discarded.
// Calling it twice with the same candidates is a no-op after the first
// call. A failed subscribe is logged and absorbed: the candidate simply has
// no live updates until a later reconcile succeeds.
func (m *Manager) Reconcile(candidates []models.MatchCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		wanted[c.ShowID] = true
	}

	// Close subscriptions for shows no longer in the candidate set.
	// Deterministic order keeps shutdown behavior reproducible.
	var stale []string
	for showID := range m.subs {
		if !wanted[showID] {
			stale = append(stale, showID)
		}
	}
	sort.Strings(stale)
	for _, showID := range stale {
		m.closeLocked(showID)
	}

	// Open subscriptions for new candidates, in ranked order.
	for _, c := range candidates {
		if _, ok := m.subs[c.ShowID]; ok {
			continue
		}
		m.openLocked(c.ShowID)
	}

	metrics.OpenSubscriptions.Set(float64(len(m.subs)))
}

// openLocked subscribes one show. Must be called with the lock held.
func (m *Manager) openLocked(showID string) {
	unsub, err := m.channel.Subscribe(showID, func(delta models.LiveStatsDelta) {
		m.applyDelta(showID, delta)
	})
	if err != nil {
		metrics.SubscriptionFailures.Inc()
		logging.Warn().Err(err).Str("show_id", showID).Msg("subscription failed, show will have no live updates")
		return
	}
	m.subs[showID] = &subscription{showID: showID, unsubscribe: unsub}
	if _, ok := m.stats[showID]; !ok {
		m.stats[showID] = &models.LiveStats{ShowID: showID, UpdatedAt: m.now()}
	}
	logging.Debug().Str("show_id", showID).Msg("subscribed to live updates")
}

// closeLocked unsubscribes one show and discards its state. Must be called
// with the lock held.
func (m *Manager) closeLocked(showID string) {
	sub, ok := m.subs[showID]
	if !ok {
		return
	}
	sub.unsubscribe()
	delete(m.subs, showID)
	delete(m.stats, showID)
	logging.Debug().Str("show_id", showID).Msg("unsubscribed from live updates")
}

// Resubscribe reopens every open subscription on the current channel.
// Called after the transport reconnects: handlers registered on the dead
// connection never reach the new one on their own, and Reconcile skips
// shows it already considers subscribed. Merged stats survive the move;
// a show that fails to reopen is dropped and retried on the next
// reconcile.
func (m *Manager) Resubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m.subs[id].unsubscribe()
		delete(m.subs, id)
		m.openLocked(id)
		if _, ok := m.subs[id]; !ok {
			delete(m.stats, id)
		}
	}

	metrics.OpenSubscriptions.Set(float64(len(m.subs)))
	logging.Info().Int("reopened", len(m.subs)).Msg("subscriptions moved to new channel")
}

// applyDelta merges an incoming delta into the show's stats. Deltas for
// shows that were unsubscribed in the meantime are dropped.
func (m *Manager) applyDelta(showID string, delta models.LiveStatsDelta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.stats[showID]
	if !ok {
		return
	}
	stats.Apply(delta, m.now())
}

// Stats returns the merged live stats for a subscribed show.
func (m *Manager) Stats(showID string) (models.LiveStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.stats[showID]
	if !ok {
		return models.LiveStats{}, false
	}
	return *stats, true
}

// SubscribedShowIDs returns the open subscription keys in sorted order.
func (m *Manager) SubscribedShowIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Teardown unsubscribes everything unconditionally. Called when the
// detection session ends; no channel may leak past it.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.closeLocked(id)
	}

	metrics.OpenSubscriptions.Set(0)
	logging.Info().Int("closed", len(ids)).Msg("all live subscriptions torn down")
}
