// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigCoversAllPlacements(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	placements := []Placement{
		PlacementFeed, PlacementInterstitial, PlacementRewarded, PlacementBanner,
		PlacementNative, PlacementVideo, PlacementStory, PlacementPreRoll,
		PlacementMidRoll, PlacementContextual,
	}
	for _, p := range placements {
		rule, ok := cfg.Placements[p]
		require.True(ok, "missing rule for %s", p)
		require.Positive(rule.MaxImpressions)
		require.Positive(rule.WindowMs)
	}

	require.Equal(3, cfg.UserFatigue.DismissThreshold)
	require.Equal(int64(15*60*1000), cfg.UserFatigue.RecoveryTimeMs)
}

func TestMergeConfigShallowMerge(t *testing.T) {
	require := require.New(t)

	base := DefaultConfig()
	maxPerHour := 5
	threshold := 5

	merged := MergeConfig(base, ConfigPatch{
		Global: &GlobalRulesPatch{MaxAdsPerHour: &maxPerHour},
		Placements: map[Placement]FrequencyRule{
			PlacementFeed: {MaxImpressions: 2, WindowMs: 1000},
		},
		UserFatigue: &FatigueRulesPatch{DismissThreshold: &threshold},
	})

	// Patched fields take the override.
	require.Equal(5, merged.Global.MaxAdsPerHour)
	require.Equal(FrequencyRule{MaxImpressions: 2, WindowMs: 1000}, merged.Placements[PlacementFeed])
	require.Equal(5, merged.UserFatigue.DismissThreshold)

	// Unpatched fields keep the defaults.
	require.Equal(base.Global.MaxAdsPerSession, merged.Global.MaxAdsPerSession)
	require.Equal(base.Placements[PlacementBanner], merged.Placements[PlacementBanner])
	require.Equal(base.UserFatigue.RecoveryTimeMs, merged.UserFatigue.RecoveryTimeMs)
}

func TestMergeConfigDoesNotMutateBase(t *testing.T) {
	require := require.New(t)

	base := DefaultConfig()
	original := base.Placements[PlacementFeed]

	MergeConfig(base, ConfigPatch{
		Placements: map[Placement]FrequencyRule{
			PlacementFeed: {MaxImpressions: 1, WindowMs: 1},
		},
	})

	require.Equal(original, base.Placements[PlacementFeed])
}

func TestMergeConfigEmptyPatchIsIdentity(t *testing.T) {
	require := require.New(t)

	base := DefaultConfig()
	merged := MergeConfig(base, ConfigPatch{})

	require.Equal(base.Global, merged.Global)
	require.Equal(base.UserFatigue, merged.UserFatigue)
	require.Equal(base.Placements, merged.Placements)
}
