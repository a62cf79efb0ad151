// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shopkit/experiments/pkg/logging"
	"github.com/shopkit/experiments/services/experiments/analytics"
	"github.com/shopkit/experiments/services/experiments/analytics/influxsink"
	"github.com/shopkit/experiments/services/experiments/assignstore"
	"github.com/shopkit/experiments/services/experiments/config"
	"github.com/shopkit/experiments/services/experiments/eventstore"
	"github.com/shopkit/experiments/services/experiments/eventstore/sqlite"
	"github.com/shopkit/experiments/services/experiments/registry"
	"github.com/shopkit/experiments/services/experiments/routes"
	"github.com/shopkit/experiments/services/experiments/service"
	"github.com/shopkit/experiments/services/experiments/storage"
	"github.com/shopkit/experiments/services/experiments/storage/badgerstore"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "expd",
		JSON:    true,
	})
	defer logger.Close()
	slogger := logger.Slog()

	if cfg.Logging.Trace {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(provider)
		defer func() { _ = provider.Shutdown(context.Background()) }()
	}

	// Sticky assignment storage: badger on disk, memory when no path.
	var provider storage.Provider
	if cfg.Storage.Path != "" {
		store, err := badgerstore.Open(badgerstore.DefaultConfig(cfg.Storage.Path))
		if err != nil {
			return fmt.Errorf("open assignment storage: %w", err)
		}
		defer store.Close()
		provider = store
	} else {
		slogger.Warn("no storage path configured; assignments are in-memory only")
		provider = storage.NewMemory()
	}

	events, err := sqlite.Open(cfg.Events.DBPath)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer events.Close()

	catalog := registry.New(slogger)
	if err := catalog.LoadFile(cfg.Registry.DefinitionsFile); err != nil {
		return fmt.Errorf("load experiment definitions: %w", err)
	}

	tracker := analytics.Multi{eventstore.NewSink(events, slogger)}
	if cfg.Analytics.Influx.URL != "" {
		influx, err := influxsink.New(influxsink.Config{
			URL:    cfg.Analytics.Influx.URL,
			Token:  cfg.Analytics.Influx.Token,
			Org:    cfg.Analytics.Influx.Org,
			Bucket: cfg.Analytics.Influx.Bucket,
			Logger: slogger,
		})
		if err != nil {
			return fmt.Errorf("connect influx sink: %w", err)
		}
		defer influx.Close()
		tracker = append(tracker, influx)
	}

	svc := service.New(service.Config{
		Registry:    catalog,
		Assignments: assignstore.New(provider, slogger),
		Tracker:     tracker,
		Recorder:    events,
		Logger:      slogger,
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Events.IngestRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Events.IngestRate), cfg.Events.IngestBurst)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, svc, events, limiter)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slogger.Info("expd listening",
			"addr", cfg.Server.Addr,
			"definitions", cfg.Registry.DefinitionsFile,
			"events_db", cfg.Events.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Registry.Watch {
		watcher := registry.NewWatcher(catalog, cfg.Registry.DefinitionsFile, slogger)
		group.Go(func() error {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("definitions watcher: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		slogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slogger.Info("expd stopped")
	return nil
}

func runCheckConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	catalog := registry.New(logging.Default().Slog())
	if err := catalog.LoadFile(cfg.Registry.DefinitionsFile); err != nil {
		return err
	}
	fmt.Printf("configuration ok: %d experiment(s) defined\n", catalog.Len())
	return nil
}
