// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

// FrequencyRule caps impressions for one placement: at most MaxImpressions
// within WindowMs, with an optional CooldownMs between two impressions.
type FrequencyRule struct {
	MaxImpressions int   `json:"maxImpressions"`
	WindowMs       int64 `json:"windowMs"`
	CooldownMs     int64 `json:"cooldownMs,omitempty"`
}

// GlobalRules are caps that apply regardless of placement.
type GlobalRules struct {
	MaxAdsPerSession       int   `json:"maxAdsPerSession"`
	MaxAdsPerHour          int   `json:"maxAdsPerHour"`
	SessionDurationMs      int64 `json:"sessionDurationMs"`
	InterstitialCooldownMs int64 `json:"interstitialCooldownMs"`
}

// FatigueRules configure the dismissal-driven fatigue model.
type FatigueRules struct {
	DismissThreshold int   `json:"dismissThreshold"`
	RecoveryTimeMs   int64 `json:"recoveryTimeMs"`
}

// FrequencyConfig is the full rule table. Immutable once applied; server
// overrides go through MergeConfig so default and override provenance stay
// distinguishable.
type FrequencyConfig struct {
	Global      GlobalRules                 `json:"global"`
	Placements  map[Placement]FrequencyRule `json:"placements"`
	UserFatigue FatigueRules                `json:"userFatigue"`
}

const hourMs = 60 * 60 * 1000

// DefaultConfig returns the built-in rule table.
func DefaultConfig() FrequencyConfig {
	return FrequencyConfig{
		Global: GlobalRules{
			MaxAdsPerSession:       10,
			MaxAdsPerHour:          12,
			SessionDurationMs:      30 * 60 * 1000,
			InterstitialCooldownMs: 5 * 60 * 1000,
		},
		Placements: map[Placement]FrequencyRule{
			PlacementFeed:         {MaxImpressions: 12, WindowMs: hourMs, CooldownMs: 30 * 1000},
			PlacementBanner:       {MaxImpressions: 20, WindowMs: hourMs},
			PlacementNative:       {MaxImpressions: 12, WindowMs: hourMs, CooldownMs: 30 * 1000},
			PlacementInterstitial: {MaxImpressions: 6, WindowMs: hourMs, CooldownMs: 5 * 60 * 1000},
			PlacementRewarded:     {MaxImpressions: 10, WindowMs: hourMs, CooldownMs: 60 * 1000},
			PlacementVideo:        {MaxImpressions: 8, WindowMs: hourMs, CooldownMs: 2 * 60 * 1000},
			PlacementStory:        {MaxImpressions: 10, WindowMs: hourMs, CooldownMs: 60 * 1000},
			PlacementPreRoll:      {MaxImpressions: 6, WindowMs: hourMs, CooldownMs: 3 * 60 * 1000},
			PlacementMidRoll:      {MaxImpressions: 4, WindowMs: hourMs, CooldownMs: 5 * 60 * 1000},
			PlacementContextual:   {MaxImpressions: 10, WindowMs: hourMs, CooldownMs: 30 * 1000},
		},
		UserFatigue: FatigueRules{
			DismissThreshold: 3,
			RecoveryTimeMs:   15 * 60 * 1000,
		},
	}
}

// GlobalRulesPatch overrides individual global fields. Nil fields keep the
// base value.
type GlobalRulesPatch struct {
	MaxAdsPerSession       *int   `json:"maxAdsPerSession,omitempty"`
	MaxAdsPerHour          *int   `json:"maxAdsPerHour,omitempty"`
	SessionDurationMs      *int64 `json:"sessionDurationMs,omitempty"`
	InterstitialCooldownMs *int64 `json:"interstitialCooldownMs,omitempty"`
}

// FatigueRulesPatch overrides individual fatigue fields.
type FatigueRulesPatch struct {
	DismissThreshold *int   `json:"dismissThreshold,omitempty"`
	RecoveryTimeMs   *int64 `json:"recoveryTimeMs,omitempty"`
}

// ConfigPatch is a server-delivered partial override, shallow-merged into the
// defaults section by section. Placement entries replace the whole rule for
// that placement.
type ConfigPatch struct {
	Global      *GlobalRulesPatch           `json:"global,omitempty"`
	Placements  map[Placement]FrequencyRule `json:"placements,omitempty"`
	UserFatigue *FatigueRulesPatch          `json:"userFatigue,omitempty"`
}

// MergeConfig applies patch on top of base and returns the result. Pure
// function; neither input is mutated.
func MergeConfig(base FrequencyConfig, patch ConfigPatch) FrequencyConfig {
	merged := base
	merged.Placements = make(map[Placement]FrequencyRule, len(base.Placements))
	for p, r := range base.Placements {
		merged.Placements[p] = r
	}

	if patch.Global != nil {
		if patch.Global.MaxAdsPerSession != nil {
			merged.Global.MaxAdsPerSession = *patch.Global.MaxAdsPerSession
		}
		if patch.Global.MaxAdsPerHour != nil {
			merged.Global.MaxAdsPerHour = *patch.Global.MaxAdsPerHour
		}
		if patch.Global.SessionDurationMs != nil {
			merged.Global.SessionDurationMs = *patch.Global.SessionDurationMs
		}
		if patch.Global.InterstitialCooldownMs != nil {
			merged.Global.InterstitialCooldownMs = *patch.Global.InterstitialCooldownMs
		}
	}

	for p, r := range patch.Placements {
		merged.Placements[p] = r
	}

	if patch.UserFatigue != nil {
		if patch.UserFatigue.DismissThreshold != nil {
			merged.UserFatigue.DismissThreshold = *patch.UserFatigue.DismissThreshold
		}
		if patch.UserFatigue.RecoveryTimeMs != nil {
			merged.UserFatigue.RecoveryTimeMs = *patch.UserFatigue.RecoveryTimeMs
		}
	}

	return merged
}
