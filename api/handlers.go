// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/adxyz/adpolicy/core"
)

type eligibilityRequest struct {
	Context   string `json:"context" binding:"required"`
	Placement string `json:"placement" binding:"required"`
	AdID      string `json:"adId"`
	Position  *int   `json:"position"`
	Force     bool   `json:"force"`
}

func (s *Server) handleEligibility(c *gin.Context) {
	var req eligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position := -1
	if req.Position != nil {
		position = *req.Position
	}

	decision := s.policy.Evaluate(core.ShowRequest{
		Context:   core.Context(req.Context),
		Placement: core.Placement(req.Placement),
		AdID:      req.AdID,
		Position:  position,
		Force:     req.Force,
	})

	result := "allowed"
	if !decision.Allowed {
		result = "blocked"
		s.metrics.BlockedTotal.WithLabelValues(string(decision.Reason)).Inc()
	}
	s.metrics.EligibilityChecks.WithLabelValues(req.Placement, result).Inc()

	c.JSON(http.StatusOK, gin.H{
		"allowed":            decision.Allowed,
		"reason":             decision.Reason,
		"engineReason":       decision.EngineReason,
		"recommendedDelayMs": decision.RecommendedDelay.Milliseconds(),
	})
}

type impressionRequest struct {
	AdID           string  `json:"adId" binding:"required"`
	Placement      string  `json:"placement" binding:"required"`
	Context        string  `json:"context"`
	Viewable       bool    `json:"viewable"`
	ViewDurationMs int64   `json:"viewDurationMs"`
	ECPM           float64 `json:"ecpm"`
}

func (s *Server) handleRecordImpression(c *gin.Context) {
	var req impressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The engine emits the analytics impression event itself; recording a
	// second one here would double-count.
	if req.ECPM > 0 {
		s.engine.RecordPaidImpression(req.AdID, core.Placement(req.Placement),
			req.Viewable, req.ViewDurationMs, decimal.NewFromFloat(req.ECPM))
	} else {
		s.engine.RecordImpression(req.AdID, core.Placement(req.Placement), req.Viewable, req.ViewDurationMs)
	}
	if req.Context != "" {
		s.policy.RecordAdShown(core.Context(req.Context))
	}
	s.metrics.ImpressionsRecorded.WithLabelValues(req.Placement).Inc()

	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

type adIDRequest struct {
	AdID string `json:"adId" binding:"required"`
}

func (s *Server) handleRecordClick(c *gin.Context) {
	var req adIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.RecordClick(req.AdID)
	s.metrics.ClicksRecorded.Inc()
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

func (s *Server) handleRecordDismissal(c *gin.Context) {
	var req adIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.RecordDismissal(req.AdID)
	s.metrics.DismissalsRecorded.Inc()
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

type reportRequest struct {
	AdID   string `json:"adId" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) handleRecordReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.RecordReport(req.AdID, req.Reason)
	s.metrics.ReportsRecorded.Inc()
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

func (s *Server) handleBlockAdvertiser(c *gin.Context) {
	advertiserID := c.Param("id")
	if advertiserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "advertiser id required"})
		return
	}
	s.engine.BlockAdvertiser(advertiserID)
	c.JSON(http.StatusOK, gin.H{"blocked": true})
}

type viewabilityStartRequest struct {
	Media string `json:"media"`
}

func (s *Server) handleViewabilityStart(c *gin.Context) {
	adID := c.Param("adId")

	// Body is optional; media defaults to display.
	var req viewabilityStartRequest
	_ = c.ShouldBindJSON(&req)

	media := core.MediaDisplay
	if req.Media == string(core.MediaVideo) {
		media = core.MediaVideo
	}

	s.viewability.StartTracking(adID, media)
	c.JSON(http.StatusOK, gin.H{"tracking": true})
}

type viewabilitySampleRequest struct {
	Visible bool    `json:"visible"`
	Percent float64 `json:"percent"`
}

func (s *Server) handleViewabilitySample(c *gin.Context) {
	adID := c.Param("adId")

	var req viewabilitySampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.viewability.UpdateSample(adID, req.Visible, req.Percent)
	c.JSON(http.StatusOK, gin.H{"sampled": true})
}

func (s *Server) handleViewabilityStop(c *gin.Context) {
	adID := c.Param("adId")

	viewDurationMs, viewable, ok := s.viewability.StopTracking(adID)
	if ok {
		s.engine.UpdateImpressionView(adID, viewDurationMs, viewable)
		s.metrics.ViewDurationSeconds.Observe(float64(viewDurationMs) / 1000)
	}

	c.JSON(http.StatusOK, gin.H{
		"tracked":        ok,
		"viewable":       viewable,
		"viewDurationMs": viewDurationMs,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":    s.engine.GetStats(),
		"analytics": s.tracker.Snapshot(),
		"tracking":  s.viewability.Active(),
	})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Config())
}

func (s *Server) handleApplyConfig(c *gin.Context) {
	var patch core.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.ApplyConfigPatch(patch)
	c.JSON(http.StatusOK, s.engine.Config())
}

func (s *Server) handleReset(c *gin.Context) {
	s.engine.Reset()
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// handleEventStream upgrades to a websocket and pushes live analytics events
// until the client disconnects.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, cancel := s.tracker.Subscribe()
	defer cancel()

	// Reader goroutine detects client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
