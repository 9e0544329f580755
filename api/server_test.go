// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/adxyz/adpolicy/core"
	"github.com/adxyz/adpolicy/pkg/analytics"
	"github.com/adxyz/adpolicy/pkg/log"
	"github.com/adxyz/adpolicy/pkg/metric"
	"github.com/adxyz/adpolicy/pkg/storage"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tracker := analytics.NewTracker(100)

	store := core.NewFrequencyStateStore(storage.NewMemDB(), log.NoOp())
	engine := core.NewEligibilityEngine(core.DefaultConfig(), store, log.NoOp())
	engine.Analytics = tracker
	engine.Load()
	t.Cleanup(func() { engine.Close() })

	policy := core.NewPlacementPolicy(engine, store, log.NoOp())
	viewability := core.NewViewabilityTracker(log.NoOp(), func(adID string, viewDurationMs int64) {
		engine.MarkViewable(adID, viewDurationMs)
	})

	srv := NewServer(engine, policy, viewability, tracker, metric.NewNop(), log.NoOp())
	return srv, srv.Router(false)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	require := require.New(t)
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal("healthy", resp["status"])
}

func TestEligibilityAllowed(t *testing.T) {
	require := require.New(t)
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/eligibility", gin.H{
		"context":   "home",
		"placement": "banner",
	})
	require.Equal(http.StatusOK, w.Code)

	var resp struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(resp.Allowed)
}

func TestEligibilityBlockedInCheckout(t *testing.T) {
	require := require.New(t)
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/eligibility", gin.H{
		"context":   "checkout",
		"placement": "banner",
	})
	require.Equal(http.StatusOK, w.Code)

	var resp struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(resp.Allowed)
	require.Equal("context_limit", resp.Reason)
}

func TestEligibilityValidation(t *testing.T) {
	require := require.New(t)
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/eligibility", gin.H{
		"placement": "banner",
	})
	require.Equal(http.StatusBadRequest, w.Code)
}

func TestImpressionRoundtrip(t *testing.T) {
	require := require.New(t)
	srv, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/impressions", gin.H{
		"adId":      "ad-1",
		"placement": "banner",
		"context":   "home",
		"ecpm":      2.5,
	})
	require.Equal(http.StatusOK, w.Code)

	stats := srv.engine.GetStats()
	require.Equal(1, stats.SessionAdCount)
	require.Equal(uint64(1), srv.tracker.Snapshot().Impressions)
}

func TestPaidImpressionCountsOnceInAnalytics(t *testing.T) {
	require := require.New(t)
	srv, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/impressions", gin.H{
		"adId":      "ad-1",
		"placement": "banner",
		"context":   "home",
		"ecpm":      2.5,
	})
	require.Equal(http.StatusOK, w.Code)

	m := srv.tracker.Snapshot()
	require.Equal(uint64(1), m.Impressions)
	require.True(m.TotalECPM.Equal(decimal.NewFromFloat(2.5)))

	events := srv.tracker.Query(analytics.QueryFilter{Types: []analytics.EventType{analytics.EventImpression}})
	require.Len(events, 1)
	require.True(events[0].ECPM.Equal(decimal.NewFromFloat(2.5)))
}

func TestDismissalThenSuppressed(t *testing.T) {
	require := require.New(t)
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/impressions", gin.H{
		"adId":      "ad-1",
		"placement": "banner",
	})
	require.Equal(http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/dismissals", gin.H{"adId": "ad-1"})
	require.Equal(http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/eligibility", gin.H{
		"context":   "home",
		"placement": "banner",
		"adId":      "ad-1",
	})
	var resp struct {
		Allowed      bool   `json:"allowed"`
		EngineReason string `json:"engineReason"`
	}
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(resp.Allowed)
	require.Equal("ad_suppressed", resp.EngineReason)
}

func TestBlockAdvertiser(t *testing.T) {
	require := require.New(t)
	srv, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/advertisers/bad.example/block", nil)
	require.Equal(http.StatusOK, w.Code)
	require.True(srv.engine.IsAdvertiserBlocked("bad.example"))
}

func TestViewabilityLifecycle(t *testing.T) {
	require := require.New(t)
	srv, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/impressions", gin.H{
		"adId":      "ad-1",
		"placement": "banner",
	})
	require.Equal(http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/viewability/ad-1/start", nil)
	require.Equal(http.StatusOK, w.Code)
	require.Equal(1, srv.viewability.Active())

	w = doJSON(t, router, http.MethodPost, "/api/v1/viewability/ad-1/samples", gin.H{
		"visible": true,
		"percent": 80.0,
	})
	require.Equal(http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/viewability/ad-1/stop", nil)
	require.Equal(http.StatusOK, w.Code)

	var resp struct {
		Tracked bool `json:"tracked"`
	}
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(resp.Tracked)
	require.Equal(0, srv.viewability.Active())
}

func TestConfigGetAndPatch(t *testing.T) {
	require := require.New(t)
	srv, router := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/config", nil)
	require.Equal(http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/config", gin.H{
		"global": gin.H{"maxAdsPerSession": 3},
	})
	require.Equal(http.StatusOK, w.Code)
	require.Equal(3, srv.engine.Config().Global.MaxAdsPerSession)
}

func TestStatsEndpoint(t *testing.T) {
	require := require.New(t)
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(resp, "engine")
	require.Contains(resp, "analytics")
}

func TestResetEndpoint(t *testing.T) {
	require := require.New(t)
	srv, router := newTestServer(t)

	doJSON(t, router, http.MethodPost, "/api/v1/impressions", gin.H{
		"adId":      "ad-1",
		"placement": "banner",
	})
	require.Equal(1, srv.engine.GetStats().SessionAdCount)

	w := doJSON(t, router, http.MethodPost, "/api/v1/reset", nil)
	require.Equal(http.StatusOK, w.Code)
	require.Equal(0, srv.engine.GetStats().SessionAdCount)
}
