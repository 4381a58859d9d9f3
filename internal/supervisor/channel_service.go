// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/stagesense/internal/logging"
	"github.com/tomtom215/stagesense/internal/realtime"
)

// ChannelService keeps the realtime websocket connected. It dials the
// stats service, installs the connection behind the proxy, and returns an
// error when the connection drops so suture redials with backoff.
type ChannelService struct {
	url   string
	proxy *realtime.ProxyChannel
}

// NewChannelService creates the keeper for a realtime endpoint.
func NewChannelService(url string, proxy *realtime.ProxyChannel) *ChannelService {
	return &ChannelService{url: url, proxy: proxy}
}

// Serve implements suture.Service.
func (s *ChannelService) Serve(ctx context.Context) error {
	ch, err := realtime.DialWS(ctx, s.url)
	if err != nil {
		return fmt.Errorf("dial realtime service: %w", err)
	}

	s.proxy.Set(ch)
	defer s.proxy.Set(nil)

	select {
	case <-ctx.Done():
		if err := ch.Close(); err != nil {
			logging.Debug().Err(err).Msg("realtime channel close failed")
		}
		return ctx.Err()

	case <-ch.Done():
		return errors.New("realtime connection lost")
	}
}

// String identifies the service in supervisor logs.
func (s *ChannelService) String() string {
	return "realtime-channel"
}
