// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adpolicysdk

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/adxyz/adpolicy/api"
	"github.com/adxyz/adpolicy/core"
	"github.com/adxyz/adpolicy/pkg/analytics"
	"github.com/adxyz/adpolicy/pkg/log"
	"github.com/adxyz/adpolicy/pkg/metric"
	"github.com/adxyz/adpolicy/pkg/storage"
)

func newTestClient(t *testing.T) *Client {
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

	srv := api.NewServer(engine, policy, viewability, tracker, metric.NewNop(), log.NoOp())
	ts := httptest.NewServer(srv.Router(false))
	t.Cleanup(ts.Close)

	return NewClient(ts.URL)
}

func TestCheckEligibility(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	decision, err := client.CheckEligibility(ctx, EligibilityRequest{
		Context:   "home",
		Placement: "banner",
	})
	require.NoError(err)
	require.True(decision.Allowed)

	decision, err = client.CheckEligibility(ctx, EligibilityRequest{
		Context:   "checkout",
		Placement: "banner",
	})
	require.NoError(err)
	require.False(decision.Allowed)
	require.Equal("context_limit", decision.Reason)
}

func TestRecordAndSuppress(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(client.RecordImpression(ctx, ImpressionReport{
		AdID:      "ad-1",
		Placement: "banner",
		Context:   "home",
	}))
	require.NoError(client.RecordDismissal(ctx, "ad-1"))

	decision, err := client.CheckEligibility(ctx, EligibilityRequest{
		Context:   "home",
		Placement: "banner",
		AdID:      "ad-1",
	})
	require.NoError(err)
	require.False(decision.Allowed)
	require.Equal("ad_suppressed", decision.EngineReason)
}

func TestViewabilityRoundtrip(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(client.RecordImpression(ctx, ImpressionReport{
		AdID:      "ad-1",
		Placement: "banner",
	}))
	require.NoError(client.StartViewability(ctx, "ad-1", core.MediaDisplay))
	require.NoError(client.SendViewabilitySample(ctx, "ad-1", true, 80))

	result, err := client.StopViewability(ctx, "ad-1")
	require.NoError(err)
	require.True(result.Tracked)
}

func TestApplyConfig(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	maxPerSession := 3
	cfg, err := client.ApplyConfig(ctx, core.ConfigPatch{
		Global: &core.GlobalRulesPatch{MaxAdsPerSession: &maxPerSession},
	})
	require.NoError(err)
	require.Equal(3, cfg.Global.MaxAdsPerSession)

	fetched, err := client.Config(ctx)
	require.NoError(err)
	require.Equal(3, fetched.Global.MaxAdsPerSession)
}

func TestValidationErrorSurfaces(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)

	_, err := client.CheckEligibility(context.Background(), EligibilityRequest{})
	require.Error(err)
}
