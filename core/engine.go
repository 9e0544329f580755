// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adxyz/adpolicy/pkg/analytics"
	"github.com/adxyz/adpolicy/pkg/log"
)

// BlockReason names the first rule that failed an eligibility check.
type BlockReason string

const (
	ReasonNone                 BlockReason = ""
	ReasonSessionCap           BlockReason = "session_cap"
	ReasonHourlyCap            BlockReason = "hourly_cap"
	ReasonPlacementCap         BlockReason = "placement_cap"
	ReasonPlacementCooldown    BlockReason = "placement_cooldown"
	ReasonInterstitialCooldown BlockReason = "interstitial_cooldown"
	ReasonAdSuppressed         BlockReason = "ad_suppressed"
	ReasonUserFatigue          BlockReason = "user_fatigue"
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Allowed bool        `json:"allowed"`
	Reason  BlockReason `json:"reason,omitempty"`
}

var allow = Decision{Allowed: true}

func block(reason BlockReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Stats is a read-only snapshot of the engine state.
type Stats struct {
	SessionAdCount      int   `json:"sessionAdCount"`
	SessionStartMs      int64 `json:"sessionStartMs"`
	TotalAdsViewed      int   `json:"totalAdsViewed"`
	ImpressionsLastHour int   `json:"impressionsLastHour"`
	Impressions24h      int   `json:"impressions24h"`
	ViewableImpressions int   `json:"viewableImpressions"`
	Clicks              int   `json:"clicks"`
	DismissedAds        int   `json:"dismissedAds"`
	ReportedAds         int   `json:"reportedAds"`
	BlockedAdvertisers  int   `json:"blockedAdvertisers"`
	Fatigued            bool  `json:"fatigued"`
}

// EligibilityEngine decides whether an ad may be shown and records outcomes.
// In-memory state is the source of truth for decisions; persistence is a
// write-behind flush driven by a background goroutine plus explicit Flush
// points. Mutations apply synchronously, so a check issued right after a
// record observes the update.
type EligibilityEngine struct {
	mu           sync.RWMutex
	cfg          FrequencyConfig
	store        *FrequencyStateStore
	state        *UserAdState
	sessionStart int64
	loaded       bool

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	// Analytics receives fire-and-forget telemetry events. Optional.
	Analytics analytics.Recorder

	log log.Logger

	flushCh   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEligibilityEngine creates an engine over the given rule table and state
// store. Call Load before the first eligibility check.
func NewEligibilityEngine(cfg FrequencyConfig, store *FrequencyStateStore, logger log.Logger) *EligibilityEngine {
	e := &EligibilityEngine{
		cfg:     cfg,
		store:   store,
		state:   NewUserAdState(),
		Clock:   time.Now,
		log:     logger,
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	e.wg.Add(1)
	go e.flushLoop()
	return e
}

// Load reads persisted state and detects a session boundary. Never fails:
// unreadable state means "no history".
func (e *EligibilityEngine) Load() {
	nowMs := e.nowMs()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = e.store.LoadUserState(nowMs)
	e.sessionStart = e.store.LoadSessionStart()
	e.rotateSessionLocked(nowMs)
	e.loaded = true

	e.log.Info("ad frequency state loaded",
		"impressions", len(e.state.Impressions),
		"sessionAdCount", e.state.SessionAdCount)
}

// Loaded reports whether Load has completed.
func (e *EligibilityEngine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// CanShowAd decides whether an ad may be shown in the given placement right
// now. adID is optional; when empty, per-ad suppression checks are skipped.
// The first failing rule wins.
func (e *EligibilityEngine) CanShowAd(placement Placement, adID string) Decision {
	nowMs := e.nowMs()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rotateSessionLocked(nowMs)

	if e.state.SessionAdCount >= e.cfg.Global.MaxAdsPerSession {
		return block(ReasonSessionCap)
	}

	if e.state.CountImpressionsSince(nowMs-hourMs, "") >= e.cfg.Global.MaxAdsPerHour {
		return block(ReasonHourlyCap)
	}

	if rule, ok := e.resolveRuleLocked(placement); ok {
		if e.state.CountImpressionsSince(nowMs-rule.WindowMs, placement) >= rule.MaxImpressions {
			return block(ReasonPlacementCap)
		}
		if rule.CooldownMs > 0 {
			if last := e.state.LastImpressionTime(placement); last > 0 && nowMs-last < rule.CooldownMs {
				return block(ReasonPlacementCooldown)
			}
		}
	}

	if placement == PlacementInterstitial && e.state.LastInterstitialTime > 0 {
		if nowMs-e.state.LastInterstitialTime < e.cfg.Global.InterstitialCooldownMs {
			return block(ReasonInterstitialCooldown)
		}
	}

	if adID != "" && (e.state.IsDismissed(adID) || e.state.IsReported(adID)) {
		return block(ReasonAdSuppressed)
	}

	if e.isFatiguedLocked(nowMs) {
		return block(ReasonUserFatigue)
	}

	return allow
}

// resolveRuleLocked finds the frequency rule for a placement, falling back to
// the feed rule, then to unconditional allow. The fail-open fallback is a
// deliberate availability-over-precision choice.
func (e *EligibilityEngine) resolveRuleLocked(placement Placement) (FrequencyRule, bool) {
	if rule, ok := e.cfg.Placements[placement]; ok {
		return rule, true
	}
	if rule, ok := e.cfg.Placements[PlacementFeed]; ok {
		e.log.Warn("no frequency rule for placement, using feed fallback", "placement", placement)
		return rule, true
	}
	e.log.Warn("no frequency rule or feed fallback, allowing", "placement", placement)
	return FrequencyRule{}, false
}

// RecordImpression appends an exposure and updates session counters. At most
// one impression is appended per (adID, timestamp) pair.
func (e *EligibilityEngine) RecordImpression(adID string, placement Placement, viewable bool, viewDurationMs int64) {
	e.recordImpression(adID, placement, viewable, viewDurationMs, decimal.Zero)
}

// RecordPaidImpression is RecordImpression with the clearing eCPM attached to
// the emitted analytics event. The engine emits the impression event itself,
// so callers must not record a second one into the same tracker.
func (e *EligibilityEngine) RecordPaidImpression(adID string, placement Placement, viewable bool, viewDurationMs int64, ecpm decimal.Decimal) {
	e.recordImpression(adID, placement, viewable, viewDurationMs, ecpm)
}

func (e *EligibilityEngine) recordImpression(adID string, placement Placement, viewable bool, viewDurationMs int64, ecpm decimal.Decimal) {
	nowMs := e.nowMs()

	e.mu.Lock()
	e.rotateSessionLocked(nowMs)

	for i := len(e.state.Impressions) - 1; i >= 0; i-- {
		imp := e.state.Impressions[i]
		if imp.Timestamp < nowMs {
			break
		}
		if imp.AdID == adID && imp.Timestamp == nowMs {
			e.mu.Unlock()
			return
		}
	}

	e.state.Impressions = append(e.state.Impressions, Impression{
		AdID:         adID,
		Placement:    placement,
		Timestamp:    nowMs,
		Viewable:     viewable,
		ViewDuration: viewDurationMs,
	})
	e.state.SessionAdCount++
	e.state.TotalAdsViewed++
	if placement == PlacementInterstitial {
		e.state.LastInterstitialTime = nowMs
	}
	e.markDirtyLocked()
	e.mu.Unlock()

	if e.Analytics != nil {
		e.Analytics.Record(analytics.Event{
			Type:      analytics.EventImpression,
			AdID:      adID,
			Placement: string(placement),
			ECPM:      ecpm,
		})
	}
}

// RecordClick marks the most recent impression of adID as clicked. Clicks
// without a matching impression are dropped.
func (e *EligibilityEngine) RecordClick(adID string) {
	e.mu.Lock()
	var placement Placement
	matched := false
	for i := len(e.state.Impressions) - 1; i >= 0; i-- {
		if e.state.Impressions[i].AdID == adID {
			e.state.Impressions[i].Clicked = true
			placement = e.state.Impressions[i].Placement
			matched = true
			e.markDirtyLocked()
			break
		}
	}
	e.mu.Unlock()

	if matched {
		e.emit(analytics.EventClick, adID, string(placement), nil)
	}
}

// RecordDismissal adds adID to the dismissal list. Idempotent per ad; only a
// new dismissal counts toward fatigue.
func (e *EligibilityEngine) RecordDismissal(adID string) {
	nowMs := e.nowMs()

	e.mu.Lock()
	added := e.state.AddDismissed(adID)
	if added {
		e.state.AddDismissalEvent(nowMs, e.cfg.UserFatigue.DismissThreshold)
		e.markDirtyLocked()
	}
	e.mu.Unlock()

	if added {
		e.emit(analytics.EventDismissal, adID, "", nil)
	}
}

// RecordReport adds adID to the report list. Idempotent.
func (e *EligibilityEngine) RecordReport(adID, reason string) {
	e.mu.Lock()
	added := e.state.AddReported(adID)
	if added {
		e.markDirtyLocked()
	}
	e.mu.Unlock()

	if added {
		e.emit(analytics.EventReport, adID, "", map[string]any{"reason": reason})
	}
}

// BlockAdvertiser adds an advertiser to the user's opt-out set. Idempotent.
func (e *EligibilityEngine) BlockAdvertiser(advertiserID string) {
	e.mu.Lock()
	if e.state.AddBlockedAdvertiser(advertiserID) {
		e.markDirtyLocked()
	}
	e.mu.Unlock()
}

// IsAdvertiserBlocked reports whether the user opted out of an advertiser.
func (e *EligibilityEngine) IsAdvertiserBlocked(advertiserID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.IsAdvertiserBlocked(advertiserID)
}

// MarkViewable latches the most recent impression of adID as a viewable
// impression. Called by the viewability tracker when the IAB threshold is
// met.
func (e *EligibilityEngine) MarkViewable(adID string, viewDurationMs int64) {
	e.mu.Lock()
	var placement Placement
	marked := false
	for i := len(e.state.Impressions) - 1; i >= 0; i-- {
		if e.state.Impressions[i].AdID == adID {
			imp := &e.state.Impressions[i]
			if !imp.Viewable {
				imp.Viewable = true
				marked = true
			}
			if viewDurationMs > imp.ViewDuration {
				imp.ViewDuration = viewDurationMs
			}
			placement = imp.Placement
			e.markDirtyLocked()
			break
		}
	}
	e.mu.Unlock()

	if marked {
		e.emit(analytics.EventViewableImpression, adID, string(placement),
			map[string]any{"viewDurationMs": viewDurationMs})
	}
}

// UpdateImpressionView writes final view accounting back to the most recent
// impression of adID. Called when viewability tracking stops.
func (e *EligibilityEngine) UpdateImpressionView(adID string, viewDurationMs int64, viewable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.state.Impressions) - 1; i >= 0; i-- {
		if e.state.Impressions[i].AdID == adID {
			imp := &e.state.Impressions[i]
			if viewDurationMs > imp.ViewDuration {
				imp.ViewDuration = viewDurationMs
			}
			imp.Viewable = imp.Viewable || viewable
			e.markDirtyLocked()
			return
		}
	}
}

// IsUserFatigued reports whether the dismissal-driven fatigue model currently
// blocks non-forced shows.
func (e *EligibilityEngine) IsUserFatigued() bool {
	nowMs := e.nowMs()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isFatiguedLocked(nowMs)
}

// FatigueScore returns dismissal pressure in [0, 1]. Dismissals older than
// the recovery window stop counting, so the score decays on its own.
func (e *EligibilityEngine) FatigueScore() float64 {
	nowMs := e.nowMs()
	e.mu.RLock()
	defer e.mu.RUnlock()
	threshold := e.cfg.UserFatigue.DismissThreshold
	if threshold <= 0 {
		return 0
	}
	recent := 0
	for _, ts := range e.state.RecentDismissals {
		if nowMs-ts < e.cfg.UserFatigue.RecoveryTimeMs {
			recent++
		}
	}
	score := float64(recent) / float64(threshold)
	if score > 1 {
		return 1
	}
	return score
}

// recentImpressions counts impressions newer than cutoff.
func (e *EligibilityEngine) recentImpressions(cutoffMs int64) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.CountImpressionsSince(cutoffMs, "")
}

func (e *EligibilityEngine) isFatiguedLocked(nowMs int64) bool {
	f := e.cfg.UserFatigue
	if f.DismissThreshold <= 0 || len(e.state.RecentDismissals) < f.DismissThreshold {
		return false
	}
	lastImp := e.state.LastImpressionTime("")
	if lastImp == 0 {
		return false
	}
	return nowMs-lastImp < f.RecoveryTimeMs
}

// rotateSessionLocked detects a session boundary: when the elapsed time since
// the recorded session start exceeds the configured session duration, the
// session counter resets while historical impressions are retained.
func (e *EligibilityEngine) rotateSessionLocked(nowMs int64) {
	if e.sessionStart == 0 {
		e.sessionStart = nowMs
		e.store.SaveSessionStart(nowMs)
		return
	}
	if nowMs-e.sessionStart > e.cfg.Global.SessionDurationMs {
		e.log.Debug("session boundary crossed, resetting session counter",
			"previousCount", e.state.SessionAdCount)
		e.state.SessionAdCount = 0
		e.sessionStart = nowMs
		e.store.SaveSessionStart(nowMs)
		e.markDirtyLocked()
	}
}

// ApplyConfigPatch merges a server-delivered override into the active rule
// table.
func (e *EligibilityEngine) ApplyConfigPatch(patch ConfigPatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = MergeConfig(e.cfg, patch)
	e.log.Info("frequency config patch applied",
		"placements", len(patch.Placements),
		"global", patch.Global != nil,
		"fatigue", patch.UserFatigue != nil)
}

// Config returns a copy of the active rule table.
func (e *EligibilityEngine) Config() FrequencyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg := e.cfg
	cfg.Placements = make(map[Placement]FrequencyRule, len(e.cfg.Placements))
	for p, r := range e.cfg.Placements {
		cfg.Placements[p] = r
	}
	return cfg
}

// GetStats returns a snapshot of the engine state.
func (e *EligibilityEngine) GetStats() Stats {
	nowMs := e.nowMs()
	e.mu.RLock()
	defer e.mu.RUnlock()

	viewable, clicks := 0, 0
	for _, imp := range e.state.Impressions {
		if imp.Viewable {
			viewable++
		}
		if imp.Clicked {
			clicks++
		}
	}

	return Stats{
		SessionAdCount:      e.state.SessionAdCount,
		SessionStartMs:      e.sessionStart,
		TotalAdsViewed:      e.state.TotalAdsViewed,
		ImpressionsLastHour: e.state.CountImpressionsSince(nowMs-hourMs, ""),
		Impressions24h:      len(e.state.Impressions),
		ViewableImpressions: viewable,
		Clicks:              clicks,
		DismissedAds:        len(e.state.DismissedAds),
		ReportedAds:         len(e.state.ReportedAds),
		BlockedAdvertisers:  len(e.state.BlockedAdvertisers),
		Fatigued:            e.isFatiguedLocked(nowMs),
	}
}

// Reset wipes all frequency state. Explicit user/developer action only.
func (e *EligibilityEngine) Reset() {
	nowMs := e.nowMs()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = NewUserAdState()
	e.sessionStart = nowMs
	if err := e.store.Reset(); err != nil {
		e.log.Warn("failed to clear persisted state", "err", err)
	}
	e.store.SaveSessionStart(nowMs)
}

// Flush synchronously persists the current state. Intended for explicit
// checkpoints such as app backgrounding.
func (e *EligibilityEngine) Flush() error {
	return e.flushNow()
}

// Close stops the write-behind flusher after a final flush.
func (e *EligibilityEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		err = e.flushNow()
	})
	return err
}

func (e *EligibilityEngine) flushLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.flushCh:
			e.flushNow()
		}
	}
}

func (e *EligibilityEngine) flushNow() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.SaveUserState(e.state)
}

// markDirtyLocked schedules a write-behind flush. Non-blocking; a flush
// already pending covers this mutation too.
func (e *EligibilityEngine) markDirtyLocked() {
	select {
	case e.flushCh <- struct{}{}:
	default:
	}
}

func (e *EligibilityEngine) emit(evType analytics.EventType, adID, placement string, meta map[string]any) {
	if e.Analytics == nil {
		return
	}
	e.Analytics.Record(analytics.Event{
		Type:      evType,
		AdID:      adID,
		Placement: placement,
		Metadata:  meta,
	})
}

func (e *EligibilityEngine) nowMs() int64 {
	return e.Clock().UnixMilli()
}
