// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"sync"
	"time"

	"github.com/adxyz/adpolicy/pkg/log"
)

// MediaType selects the viewability threshold for a creative.
type MediaType string

const (
	MediaDisplay MediaType = "display"
	MediaVideo   MediaType = "video"
)

const (
	// MinVisiblePercent is the IAB visibility floor.
	MinVisiblePercent = 50.0

	// DisplayViewabilityThresholdMs is the continuous visible time required
	// for static/display creatives.
	DisplayViewabilityThresholdMs = 1000

	// VideoViewabilityThresholdMs is the continuous visible time required
	// for video creatives.
	VideoViewabilityThresholdMs = 2000

	// SampleInterval is the reference polling cadence for UI-driven
	// samples. Fine enough to resolve the 1s display threshold.
	SampleInterval = 500 * time.Millisecond
)

// ViewabilityState is the per-ad-instance tracking state. Not persisted
// across restarts.
type ViewabilityState struct {
	AdID              string
	Media             MediaType
	StartTime         int64 // start of the current visible segment, 0 when hidden
	IsVisible         bool
	VisiblePercentage float64
	TotalViewTime     int64 // accumulated ms at >=50% visibility, across segments
	IsViewable        bool  // latched once the threshold is met
}

func (v *ViewabilityState) threshold() int64 {
	if v.Media == MediaVideo {
		return VideoViewabilityThresholdMs
	}
	return DisplayViewabilityThresholdMs
}

// ViewableFunc is invoked exactly once per instance when the continuous
// visibility threshold is reached.
type ViewableFunc func(adID string, viewDurationMs int64)

// ViewabilityTracker converts streams of visibility samples into confirmed
// viewable-impression events under IAB continuous-visibility semantics:
// >=50% visible, continuously, for 1s (display) or 2s (video). Partial
// segments never accumulate toward the threshold across a gap.
type ViewabilityTracker struct {
	mu        sync.Mutex
	instances map[string]*ViewabilityState

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	onViewable ViewableFunc
	log        log.Logger
}

// NewViewabilityTracker creates a tracker. onViewable may be nil.
func NewViewabilityTracker(logger log.Logger, onViewable ViewableFunc) *ViewabilityTracker {
	return &ViewabilityTracker{
		instances:  make(map[string]*ViewabilityState),
		Clock:      time.Now,
		onViewable: onViewable,
		log:        logger,
	}
}

// StartTracking begins tracking one ad instance. Restarting an already
// tracked instance resets its state.
func (t *ViewabilityTracker) StartTracking(adID string, media MediaType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.instances[adID] = &ViewabilityState{AdID: adID, Media: media}
}

// UpdateSample feeds one (isVisible, visiblePercentage) measurement from the
// UI layer. Samples for unknown instances are ignored.
func (t *ViewabilityTracker) UpdateSample(adID string, isVisible bool, visiblePercentage float64) {
	nowMs := t.Clock().UnixMilli()

	t.mu.Lock()
	st, ok := t.instances[adID]
	if !ok {
		t.mu.Unlock()
		return
	}

	st.IsVisible = isVisible
	st.VisiblePercentage = visiblePercentage

	var fire bool
	var fireDuration int64

	if isVisible && visiblePercentage >= MinVisiblePercent {
		if st.StartTime == 0 {
			st.StartTime = nowMs
		}
		elapsed := nowMs - st.StartTime
		if !st.IsViewable && elapsed >= st.threshold() {
			st.IsViewable = true
			fire = true
			fireDuration = elapsed
		}
	} else if st.StartTime != 0 {
		// Segment ended before (or after) the threshold: credit the time
		// toward total view time, discard threshold progress.
		st.TotalViewTime += nowMs - st.StartTime
		st.StartTime = 0
	}
	t.mu.Unlock()

	if fire && t.onViewable != nil {
		t.log.Debug("viewable impression confirmed", "adId", adID, "elapsedMs", fireDuration)
		t.onViewable(adID, fireDuration)
	}
}

// StopTracking finalizes any in-progress segment and removes the instance.
// A closing segment that already crossed the threshold still counts as
// viewable even though no sample observed it. Returns the accumulated view
// duration and whether the threshold was met; ok is false for unknown
// instances.
func (t *ViewabilityTracker) StopTracking(adID string) (viewDurationMs int64, viewable bool, ok bool) {
	nowMs := t.Clock().UnixMilli()

	t.mu.Lock()
	st, exists := t.instances[adID]
	if !exists {
		t.mu.Unlock()
		return 0, false, false
	}

	var fire bool
	var fireDuration int64
	if st.StartTime != 0 {
		elapsed := nowMs - st.StartTime
		st.TotalViewTime += elapsed
		if !st.IsViewable && elapsed >= st.threshold() {
			st.IsViewable = true
			fire = true
			fireDuration = elapsed
		}
		st.StartTime = 0
	}
	delete(t.instances, adID)
	t.mu.Unlock()

	if fire && t.onViewable != nil {
		t.log.Debug("viewable impression confirmed at stop", "adId", adID, "elapsedMs", fireDuration)
		t.onViewable(adID, fireDuration)
	}
	return st.TotalViewTime, st.IsViewable, true
}

// StopAll tears down every instance. Used on unmount so no tracking state
// leaks.
func (t *ViewabilityTracker) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.instances = make(map[string]*ViewabilityState)
}

// State returns a copy of the tracking state for one instance.
func (t *ViewabilityTracker) State(adID string) (ViewabilityState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.instances[adID]
	if !ok {
		return ViewabilityState{}, false
	}
	return *st, true
}

// Active returns the number of tracked instances.
func (t *ViewabilityTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.instances)
}
