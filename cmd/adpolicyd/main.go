// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adxyz/adpolicy/api"
	"github.com/adxyz/adpolicy/core"
	"github.com/adxyz/adpolicy/pkg/analytics"
	"github.com/adxyz/adpolicy/pkg/log"
	"github.com/adxyz/adpolicy/pkg/metric"
	"github.com/adxyz/adpolicy/pkg/storage"
)

var (
	dataDir    = flag.String("data-dir", "/tmp/adpolicyd", "Data directory")
	dbType     = flag.String("db", "badger", "Storage backend: badger, memory")
	port       = flag.Int("port", 8080, "API server port")
	opsPort    = flag.Int("ops-port", 9090, "Ops server port (health, metrics)")
	logLevel   = flag.String("log-level", "info", "Log level")
	env        = flag.String("env", "development", "Environment (development/production)")
	configPath = flag.String("config", "", "Optional frequency config patch (JSON file)")

	// Version info
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	flag.Parse()

	fmt.Printf("Ad Policy Daemon (adpolicyd) %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	db, err := storage.New(*dbType, *dataDir)
	if err != nil {
		logger.Fatal("failed to open storage", "err", err)
	}
	defer db.Close()

	cfg := core.DefaultConfig()
	if *configPath != "" {
		patch, err := loadConfigPatch(*configPath)
		if err != nil {
			logger.Fatal("failed to load config patch", "path", *configPath, "err", err)
		}
		cfg = core.MergeConfig(cfg, patch)
		logger.Info("frequency config patch loaded", "path", *configPath)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := metric.New(reg)

	tracker := analytics.NewTracker(10000)

	store := core.NewFrequencyStateStore(db, logger)
	store.OnError = metrics.StorageErrors.Inc
	engine := core.NewEligibilityEngine(cfg, store, logger)
	engine.Analytics = tracker
	engine.Load()
	defer engine.Close()

	policy := core.NewPlacementPolicy(engine, store, logger)

	viewability := core.NewViewabilityTracker(logger, func(adID string, viewDurationMs int64) {
		engine.MarkViewable(adID, viewDurationMs)
		metrics.ViewableImpressions.Inc()
	})

	server := api.NewServer(engine, policy, viewability, tracker, metrics, logger)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: server.Router(*env == "production"),
	}

	opsRouter := mux.NewRouter()
	opsRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	opsRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	}).Methods("GET")
	opsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *opsPort),
		Handler: opsRouter,
	}

	go func() {
		logger.Info("api server listening", "port", *port)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server failed", "err", err)
		}
	}()
	go func() {
		logger.Info("ops server listening", "port", *opsPort)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ops server failed", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(ctx); err != nil {
		logger.Warn("api server shutdown", "err", err)
	}
	if err := opsSrv.Shutdown(ctx); err != nil {
		logger.Warn("ops server shutdown", "err", err)
	}

	viewability.StopAll()
	if err := engine.Flush(); err != nil {
		logger.Warn("final state flush failed", "err", err)
	}

	logger.Info("daemon stopped")
}

func loadConfigPatch(path string) (core.ConfigPatch, error) {
	var patch core.ConfigPatch
	raw, err := os.ReadFile(path)
	if err != nil {
		return patch, err
	}
	if err := json.Unmarshal(raw, &patch); err != nil {
		return patch, err
	}
	return patch, nil
}
