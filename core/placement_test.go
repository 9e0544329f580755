// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adxyz/adpolicy/pkg/log"
	"github.com/adxyz/adpolicy/pkg/storage"
)

func newTestPolicy(t *testing.T, cfg FrequencyConfig) (*PlacementPolicy, *EligibilityEngine, *fakeClock) {
	t.Helper()
	db := storage.NewMemDB()
	store := NewFrequencyStateStore(db, log.NoOp())
	eng := NewEligibilityEngine(cfg, store, log.NoOp())
	clk := newFakeClock()
	eng.Clock = clk.Now
	eng.Load()
	t.Cleanup(func() { eng.Close() })

	policy := NewPlacementPolicy(eng, store, log.NoOp())
	policy.Clock = clk.Now
	return policy, eng, clk
}

func TestCheckoutNeverShowsAds(t *testing.T) {
	require := require.New(t)
	policy, _, _ := newTestPolicy(t, DefaultConfig())

	d := policy.Evaluate(ShowRequest{Context: ContextCheckout, Placement: PlacementBanner, Position: -1})
	require.False(d.Allowed)
	require.Equal(PolicyContextLimit, d.Reason)
}

func TestContextAdLimit(t *testing.T) {
	require := require.New(t)
	policy, _, clk := newTestPolicy(t, DefaultConfig())

	// home allows 5 ads per context window.
	for i := 0; i < 5; i++ {
		policy.RecordAdShown(ContextHome)
		clk.Advance(2 * time.Minute)
	}

	d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: -1})
	require.False(d.Allowed)
	require.Equal(PolicyContextLimit, d.Reason)
}

func TestContextMinimumInterval(t *testing.T) {
	require := require.New(t)
	policy, _, clk := newTestPolicy(t, DefaultConfig())

	policy.RecordAdShown(ContextHome)

	clk.Advance(30 * time.Second)
	d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: -1})
	require.False(d.Allowed)
	require.Equal(PolicyContextInterval, d.Reason)

	clk.Advance(31 * time.Second)
	d = policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: -1})
	require.True(d.Allowed)
}

func TestContextStateExpiresAfterInactivity(t *testing.T) {
	require := require.New(t)
	policy, _, clk := newTestPolicy(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		policy.RecordAdShown(ContextHome)
	}
	d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: -1})
	require.Equal(PolicyContextLimit, d.Reason)

	clk.Advance(31 * time.Minute)
	d = policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: -1})
	require.True(d.Allowed)
}

func TestFeedPositionTable(t *testing.T) {
	require := require.New(t)
	policy, _, _ := newTestPolicy(t, DefaultConfig())

	for _, pos := range []int{3, 8, 15, 25, 40, 60, 85, 115, 150} {
		require.True(IsFeedAdPosition(pos))
		d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: pos})
		require.True(d.Allowed, "position %d", pos)
	}

	for _, pos := range []int{0, 1, 2, 4, 7, 100, 151} {
		require.False(IsFeedAdPosition(pos))
		d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: pos})
		require.False(d.Allowed, "position %d", pos)
		require.Equal(PolicyPositionIneligible, d.Reason)
	}

	// Non-feed placements ignore the slot table.
	d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementBanner, Position: 4})
	require.True(d.Allowed)
}

func TestForceBypassesAllChecks(t *testing.T) {
	require := require.New(t)
	policy, _, _ := newTestPolicy(t, DefaultConfig())

	d := policy.Evaluate(ShowRequest{Context: ContextCheckout, Placement: PlacementBanner, Position: -1, Force: true})
	require.True(d.Allowed)
}

func TestInitializingBeforeLoad(t *testing.T) {
	require := require.New(t)

	db := storage.NewMemDB()
	store := NewFrequencyStateStore(db, log.NoOp())
	eng := NewEligibilityEngine(DefaultConfig(), store, log.NoOp())
	t.Cleanup(func() { eng.Close() })

	policy := NewPlacementPolicy(eng, store, log.NoOp())
	d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: -1})
	require.False(d.Allowed)
	require.Equal(PolicyInitializing, d.Reason)
}

func TestEngineBlockMapsToFrequencyCap(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	cfg.Global.MaxAdsPerSession = 1
	policy, eng, clk := newTestPolicy(t, cfg)

	eng.RecordImpression("ad-1", PlacementBanner, false, 0)
	clk.Advance(time.Second)

	d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementBanner, Position: -1})
	require.False(d.Allowed)
	require.Equal(PolicyFrequencyCap, d.Reason)
	require.Equal(ReasonSessionCap, d.EngineReason)
}

func TestFatigueMapsToUserFatigue(t *testing.T) {
	require := require.New(t)
	policy, eng, _ := newTestPolicy(t, DefaultConfig())

	eng.RecordImpression("ad-1", PlacementBanner, false, 0)
	for _, adID := range []string{"ad-1", "ad-2", "ad-3"} {
		eng.RecordDismissal(adID)
	}

	d := policy.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementBanner, Position: -1})
	require.False(d.Allowed)
	require.Equal(PolicyUserFatigue, d.Reason)
	require.Equal(ReasonUserFatigue, d.EngineReason)
}

func TestRecommendedDelayScaling(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	cfg.Global.MaxAdsPerSession = 100
	cfg.Global.MaxAdsPerHour = 100
	policy, eng, clk := newTestPolicy(t, cfg)

	// No fatigue, no recent impressions: base delay.
	require.Equal(30*time.Second, policy.RecommendedDelay())

	// Ten recent impressions double the delay.
	for i := 0; i < 10; i++ {
		eng.RecordImpression(fmt.Sprintf("ad-%d", i), PlacementBanner, false, 0)
		clk.Advance(time.Second)
	}
	require.Equal(60*time.Second, policy.RecommendedDelay())

	// Full fatigue triples it on top.
	for _, adID := range []string{"ad-0", "ad-1", "ad-2"} {
		eng.RecordDismissal(adID)
	}
	require.Equal(180*time.Second, policy.RecommendedDelay())
}

func TestRecommendedDelayCap(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	cfg.Global.MaxAdsPerSession = 100
	cfg.Global.MaxAdsPerHour = 100
	policy, eng, clk := newTestPolicy(t, cfg)

	for i := 0; i < 30; i++ {
		eng.RecordImpression(fmt.Sprintf("ad-%d", i), PlacementBanner, false, 0)
		clk.Advance(time.Second)
	}
	for _, adID := range []string{"ad-0", "ad-1", "ad-2"} {
		eng.RecordDismissal(adID)
	}

	require.Equal(5*time.Minute, policy.RecommendedDelay())
}

func TestContextStatePersistsAcrossPolicyInstances(t *testing.T) {
	require := require.New(t)

	db := storage.NewMemDB()
	store := NewFrequencyStateStore(db, log.NoOp())
	eng := NewEligibilityEngine(DefaultConfig(), store, log.NoOp())
	clk := newFakeClock()
	eng.Clock = clk.Now
	eng.Load()
	t.Cleanup(func() { eng.Close() })

	policy := NewPlacementPolicy(eng, store, log.NoOp())
	policy.Clock = clk.Now
	for i := 0; i < 5; i++ {
		policy.RecordAdShown(ContextHome)
	}

	policy2 := NewPlacementPolicy(eng, store, log.NoOp())
	policy2.Clock = clk.Now
	d := policy2.Evaluate(ShowRequest{Context: ContextHome, Placement: PlacementFeed, Position: -1})
	require.False(d.Allowed)
	require.Equal(PolicyContextLimit, d.Reason)
}
