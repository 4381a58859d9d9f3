// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package realtime

import (
	"errors"
	"sync"
)

// ErrChannelUnavailable is returned by ProxyChannel while no backend is
// connected. Subscribe failures are absorbed by the manager and retried on
// the next reconcile, so a window without a backend only delays updates.
var ErrChannelUnavailable = errors.New("realtime channel unavailable")

// ProxyChannel forwards Subscribe to a swappable backend channel. It lets
// the manager hold one stable Channel reference while a supervisor redials
// the websocket behind it. Handlers registered on a dead backend do not
// carry over on their own: installing a live backend fires the swap hook,
// where the manager reopens its subscriptions on the new connection.
type ProxyChannel struct {
	mu      sync.RWMutex
	current Channel
	onSwap  func()
}

// NewProxyChannel creates a proxy with no backend.
func NewProxyChannel() *ProxyChannel {
	return &ProxyChannel{}
}

// OnSwap registers fn, invoked after a live backend is installed. Wire the
// manager's Resubscribe here.
func (p *ProxyChannel) OnSwap(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSwap = fn
}

// Set swaps the backend. nil marks the channel unavailable and fires no
// hook; a non-nil backend triggers the swap hook outside the lock.
func (p *ProxyChannel) Set(ch Channel) {
	p.mu.Lock()
	p.current = ch
	fn := p.onSwap
	p.mu.Unlock()

	if ch != nil && fn != nil {
		fn()
	}
}

// Subscribe forwards to the current backend.
func (p *ProxyChannel) Subscribe(showID string, onUpdate UpdateFunc) (Unsubscribe, error) {
	p.mu.RLock()
	current := p.current
	p.mu.RUnlock()

	if current == nil {
		return nil, ErrChannelUnavailable
	}
	return current.Subscribe(showID, onUpdate)
}
