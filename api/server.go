// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/adxyz/adpolicy/core"
	"github.com/adxyz/adpolicy/pkg/analytics"
	"github.com/adxyz/adpolicy/pkg/log"
	"github.com/adxyz/adpolicy/pkg/metric"
)

// Server exposes the ad policy surface over HTTP: eligibility checks,
// outcome recording, viewability sample ingestion, stats and live events.
type Server struct {
	engine      *core.EligibilityEngine
	policy      *core.PlacementPolicy
	viewability *core.ViewabilityTracker
	tracker     *analytics.Tracker
	metrics     *metric.Metrics
	log         log.Logger
	upgrader    websocket.Upgrader
}

// NewServer wires the policy components into an HTTP server.
func NewServer(
	engine *core.EligibilityEngine,
	policy *core.PlacementPolicy,
	viewability *core.ViewabilityTracker,
	tracker *analytics.Tracker,
	metrics *metric.Metrics,
	logger log.Logger,
) *Server {
	return &Server{
		engine:      engine,
		policy:      policy,
		viewability: viewability,
		tracker:     tracker,
		metrics:     metrics,
		log:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router(production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(config))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/eligibility", s.handleEligibility)
		v1.POST("/impressions", s.handleRecordImpression)
		v1.POST("/clicks", s.handleRecordClick)
		v1.POST("/dismissals", s.handleRecordDismissal)
		v1.POST("/reports", s.handleRecordReport)
		v1.POST("/advertisers/:id/block", s.handleBlockAdvertiser)

		v1.POST("/viewability/:adId/start", s.handleViewabilityStart)
		v1.POST("/viewability/:adId/samples", s.handleViewabilitySample)
		v1.POST("/viewability/:adId/stop", s.handleViewabilityStop)

		v1.GET("/stats", s.handleStats)
		v1.GET("/config", s.handleGetConfig)
		v1.POST("/config", s.handleApplyConfig)
		v1.POST("/reset", s.handleReset)

		v1.GET("/events/ws", s.handleEventStream)
	}

	return router
}
