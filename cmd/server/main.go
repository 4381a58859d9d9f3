// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Command server runs the proximity matching engine as an edge service for
// one device client: the device pushes position fixes over HTTP, the engine
// matches them against the show catalog and manages live-stat
// subscriptions.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/stagesense/internal/api"
	"github.com/tomtom215/stagesense/internal/catalog"
	"github.com/tomtom215/stagesense/internal/config"
	"github.com/tomtom215/stagesense/internal/detection"
	"github.com/tomtom215/stagesense/internal/logging"
	"github.com/tomtom215/stagesense/internal/matching"
	"github.com/tomtom215/stagesense/internal/policy"
	"github.com/tomtom215/stagesense/internal/realtime"
	"github.com/tomtom215/stagesense/internal/settings"
	"github.com/tomtom215/stagesense/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("engine exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging.ToLogging())
	logging.Info().
		Str("listen", cfg.Server.ListenAddr()).
		Bool("realtime", cfg.Realtime.Enabled).
		Msg("starting stagesense engine")

	// Settings persistence: embedded badger unless configured in-memory.
	var persist settings.Persistence
	if cfg.Storage.InMemory {
		persist = settings.NewMemoryPersistence()
	} else {
		badgerStore, err := settings.OpenBadger(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := badgerStore.Close(); err != nil {
				logging.Warn().Err(err).Msg("settings store close failed")
			}
		}()
		persist = badgerStore
	}
	store := settings.NewStore(persist, cfg.Bounds)

	// Catalog: remote HTTP source behind the breaker, or the in-process
	// demo catalog when none is configured.
	var source catalog.ShowCatalog
	if cfg.Catalog.URL != "" {
		source = catalog.NewHTTPCatalog(cfg.Catalog.URL, cfg.Server.Timeout)
	} else {
		logging.Warn().Msg("no catalog url configured, running with the empty demo catalog")
		source = catalog.NewMemoryCatalog(nil)
	}
	resilient := catalog.NewResilientCatalog(source, cfg.Catalog.Breaker)

	// Realtime channel: supervised websocket behind a proxy, so redials
	// never invalidate the manager's channel reference.
	proxy := realtime.NewProxyChannel()
	manager := realtime.NewManager(proxy)
	proxy.OnSwap(manager.Resubscribe)

	controller := detection.NewController(
		detection.PassiveProvider{},
		resilient,
		matching.NewEngine(cfg.Scoring),
		policy.New(cfg.Policy),
		manager,
		store,
		cfg.Detection,
	)
	defer controller.Close()

	router := api.NewRouter(controller, store, resilient, api.RouterConfig{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	tree := supervisor.NewTree(slogger, supervisor.DefaultTreeConfig())
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.Timeout))
	if cfg.Realtime.Enabled {
		tree.AddRealtimeService(supervisor.NewChannelService(cfg.Realtime.URL, proxy))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("engine stopped")
	return nil
}
