// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"sync"
	"time"

	"github.com/adxyz/adpolicy/pkg/log"
)

// Context identifies a screen context an ad may appear in.
type Context string

const (
	ContextHome      Context = "home"
	ContextQuestions Context = "questions"
	ContextVideos    Context = "videos"
	ContextSurveys   Context = "surveys"
	ContextRewards   Context = "rewards"
	ContextProfile   Context = "profile"
	ContextSearch    Context = "search"
	ContextArticle   Context = "article"
	ContextResults   Context = "results"
	ContextCheckout  Context = "checkout"
)

// ContextRule caps ad activity within one screen context.
type ContextRule struct {
	MaxAds        int   `json:"maxAds"`
	MinIntervalMs int64 `json:"minIntervalMs"`
}

// DefaultContextRules returns the per-context configuration. Checkout is
// fixed at zero ads; that is a business rule, not a tunable.
func DefaultContextRules() map[Context]ContextRule {
	return map[Context]ContextRule{
		ContextHome:      {MaxAds: 5, MinIntervalMs: 60 * 1000},
		ContextQuestions: {MaxAds: 3, MinIntervalMs: 120 * 1000},
		ContextVideos:    {MaxAds: 4, MinIntervalMs: 90 * 1000},
		ContextSurveys:   {MaxAds: 2, MinIntervalMs: 180 * 1000},
		ContextRewards:   {MaxAds: 3, MinIntervalMs: 90 * 1000},
		ContextProfile:   {MaxAds: 2, MinIntervalMs: 120 * 1000},
		ContextSearch:    {MaxAds: 3, MinIntervalMs: 90 * 1000},
		ContextArticle:   {MaxAds: 4, MinIntervalMs: 60 * 1000},
		ContextResults:   {MaxAds: 3, MinIntervalMs: 120 * 1000},
		ContextCheckout:  {MaxAds: 0},
	}
}

// defaultContextRule applies to contexts missing from the table.
var defaultContextRule = ContextRule{MaxAds: 3, MinIntervalMs: 90 * 1000}

// feedAdPositions are the list positions eligible to hold a feed/native ad.
// Geometrically increasing spacing reduces ad density deeper in a feed.
var feedAdPositions = []int{3, 8, 15, 25, 40, 60, 85, 115, 150}

const (
	// contextMaxAgeMs is the inactivity window after which context state
	// resets.
	contextMaxAgeMs = 30 * 60 * 1000

	// baseDelayMs seeds the recommended back-off.
	baseDelayMs = 30 * 1000

	// maxDelayMs caps the recommended back-off.
	maxDelayMs = 5 * 60 * 1000

	// recentImpressionWindowMs is the window for the volume multiplier.
	recentImpressionWindowMs = 15 * 60 * 1000
)

// PolicyReason names the first failing check of a placement decision.
type PolicyReason string

const (
	PolicyAllowed            PolicyReason = ""
	PolicyFrequencyCap       PolicyReason = "frequency_cap"
	PolicyUserFatigue        PolicyReason = "user_fatigue"
	PolicyContextLimit       PolicyReason = "context_limit"
	PolicyContextInterval    PolicyReason = "context_interval"
	PolicyPositionIneligible PolicyReason = "position_ineligible"
	PolicyInitializing       PolicyReason = "initializing"
)

// ShowRequest asks whether an ad may be shown in a context. Position is the
// feed list position (-1 when not applicable). Force bypasses every check.
type ShowRequest struct {
	Context   Context   `json:"context"`
	Placement Placement `json:"placement"`
	AdID      string    `json:"adId,omitempty"`
	Position  int       `json:"position"`
	Force     bool      `json:"force,omitempty"`
}

// PolicyDecision is the combined engine+context outcome plus a recommended
// back-off before the next attempt.
type PolicyDecision struct {
	Allowed          bool          `json:"allowed"`
	Reason           PolicyReason  `json:"reason,omitempty"`
	EngineReason     BlockReason   `json:"engineReason,omitempty"`
	RecommendedDelay time.Duration `json:"recommendedDelayMs"`
}

// PlacementPolicy is the context-aware overlay on top of the eligibility
// engine: per-context ad caps, minimum intervals and feed slot positions.
type PlacementPolicy struct {
	mu     sync.Mutex
	engine *EligibilityEngine
	store  *FrequencyStateStore
	rules  map[Context]ContextRule
	ctxs   map[Context]*ContextState

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	log log.Logger
}

// NewPlacementPolicy creates a policy over the engine and state store with
// the default context table.
func NewPlacementPolicy(engine *EligibilityEngine, store *FrequencyStateStore, logger log.Logger) *PlacementPolicy {
	return &PlacementPolicy{
		engine: engine,
		store:  store,
		rules:  DefaultContextRules(),
		ctxs:   make(map[Context]*ContextState),
		Clock:  time.Now,
		log:    logger,
	}
}

// IsFeedAdPosition reports whether a feed list position is an eligible ad
// slot. Positions outside the table never show an ad.
func IsFeedAdPosition(position int) bool {
	for _, p := range feedAdPositions {
		if p == position {
			return true
		}
	}
	return false
}

// Evaluate runs the full decision chain. Checks run in order: forced
// override, feed slot position, global engine result, context ad-count
// limit, context minimum interval. The first failing check sets the reason.
func (p *PlacementPolicy) Evaluate(req ShowRequest) PolicyDecision {
	nowMs := p.Clock().UnixMilli()

	if !p.engine.Loaded() {
		return PolicyDecision{Reason: PolicyInitializing, RecommendedDelay: SampleInterval}
	}

	if req.Force {
		return PolicyDecision{Allowed: true}
	}

	if req.Position >= 0 && (req.Placement == PlacementFeed || req.Placement == PlacementNative) {
		if !IsFeedAdPosition(req.Position) {
			return PolicyDecision{Reason: PolicyPositionIneligible, RecommendedDelay: p.recommendedDelay(nowMs)}
		}
	}

	if d := p.engine.CanShowAd(req.Placement, req.AdID); !d.Allowed {
		reason := PolicyFrequencyCap
		if d.Reason == ReasonUserFatigue {
			reason = PolicyUserFatigue
		}
		return PolicyDecision{Reason: reason, EngineReason: d.Reason, RecommendedDelay: p.recommendedDelay(nowMs)}
	}

	rule, ok := p.rules[req.Context]
	if !ok {
		p.log.Warn("no context rule, using default", "context", req.Context)
		rule = defaultContextRule
	}

	p.mu.Lock()
	state := p.contextStateLocked(req.Context, nowMs)
	limited := state.AdsInContext >= rule.MaxAds
	tooSoon := !limited && state.LastAdTime > 0 && nowMs-state.LastAdTime < rule.MinIntervalMs
	p.mu.Unlock()

	if limited {
		return PolicyDecision{Reason: PolicyContextLimit, RecommendedDelay: p.recommendedDelay(nowMs)}
	}
	if tooSoon {
		return PolicyDecision{Reason: PolicyContextInterval, RecommendedDelay: p.recommendedDelay(nowMs)}
	}

	return PolicyDecision{Allowed: true}
}

// CanShowAd is the boolean convenience form of Evaluate.
func (p *PlacementPolicy) CanShowAd(ctx Context, placement Placement, adID string) bool {
	return p.Evaluate(ShowRequest{Context: ctx, Placement: placement, AdID: adID, Position: -1}).Allowed
}

// RecordAdShown updates the context counters after an ad render and persists
// the context state.
func (p *PlacementPolicy) RecordAdShown(ctx Context) {
	nowMs := p.Clock().UnixMilli()

	p.mu.Lock()
	state := p.contextStateLocked(ctx, nowMs)
	if state.ContextStartTime == 0 {
		state.ContextStartTime = nowMs
	}
	state.LastAdTime = nowMs
	state.AdsInContext++
	p.store.SaveContext(string(ctx), state)
	p.mu.Unlock()
}

// RecommendedDelay computes a heuristic back-off before the next ad attempt:
// base delay scaled by fatigue and recent impression volume, capped at five
// minutes.
func (p *PlacementPolicy) RecommendedDelay() time.Duration {
	return p.recommendedDelay(p.Clock().UnixMilli())
}

func (p *PlacementPolicy) recommendedDelay(nowMs int64) time.Duration {
	fatigue := p.engine.FatigueScore()
	recent := p.engine.recentImpressions(nowMs - recentImpressionWindowMs)

	delay := float64(baseDelayMs)
	delay *= 1 + fatigue*2
	delay *= 1 + float64(recent/5)*0.5

	if delay > maxDelayMs {
		delay = maxDelayMs
	}
	return time.Duration(delay) * time.Millisecond
}

// contextStateLocked returns the cached context state, loading (and expiring)
// persisted state on first touch.
func (p *PlacementPolicy) contextStateLocked(ctx Context, nowMs int64) *ContextState {
	if state, ok := p.ctxs[ctx]; ok {
		if state.ContextStartTime > 0 && nowMs-state.ContextStartTime > contextMaxAgeMs {
			state = &ContextState{}
			p.ctxs[ctx] = state
		}
		return state
	}
	state := p.store.LoadContext(string(ctx), nowMs, contextMaxAgeMs)
	p.ctxs[ctx] = state
	return state
}
