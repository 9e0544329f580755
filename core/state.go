// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

// Placement identifies the slot type an ad is rendered into.
type Placement string

const (
	PlacementFeed         Placement = "feed"
	PlacementInterstitial Placement = "interstitial"
	PlacementRewarded     Placement = "rewarded"
	PlacementBanner       Placement = "banner"
	PlacementNative       Placement = "native"
	PlacementVideo        Placement = "video"
	PlacementStory        Placement = "story"
	PlacementPreRoll      Placement = "pre-roll"
	PlacementMidRoll      Placement = "mid-roll"
	PlacementContextual   Placement = "contextual"
)

const (
	// ImpressionRetentionMs is how long impressions are kept before being
	// pruned on load.
	ImpressionRetentionMs = 24 * 60 * 60 * 1000

	// maxDismissedAds bounds the dismissed-ad suppression list.
	maxDismissedAds = 50
)

// Impression is one recorded ad exposure. Timestamps are wall-clock
// milliseconds; impressions are append-only until pruned.
type Impression struct {
	AdID         string    `json:"adId"`
	Placement    Placement `json:"placement"`
	Timestamp    int64     `json:"timestamp"`
	Viewable     bool      `json:"viewable"`
	ViewDuration int64     `json:"viewDuration"`
	Clicked      bool      `json:"clicked"`
}

// UserAdState is the process-wide frequency state persisted across sessions.
// Impressions are kept in strict append order; the dismissal list is bounded
// and append-ordered so recency-by-insertion matches recency-by-time.
type UserAdState struct {
	Impressions          []Impression `json:"impressions"`
	LastInterstitialTime int64        `json:"lastInterstitialTime"`
	SessionAdCount       int          `json:"sessionAdCount"`
	TotalAdsViewed       int          `json:"totalAdsViewed"`
	DismissedAds         []string     `json:"dismissedAds"`
	ReportedAds          []string     `json:"reportedAds"`
	BlockedAdvertisers   []string     `json:"blockedAdvertisers"`

	// RecentDismissals holds the timestamps of the most recent dismissal
	// events (bounded by the fatigue dismiss threshold). Kept separately
	// from DismissedAds so repeat dismissals of the same ad stay idempotent
	// while fatigue still sees every event.
	RecentDismissals []int64 `json:"recentDismissals"`
}

// NewUserAdState returns a zeroed state for first run.
func NewUserAdState() *UserAdState {
	return &UserAdState{
		Impressions:        []Impression{},
		DismissedAds:       []string{},
		ReportedAds:        []string{},
		BlockedAdvertisers: []string{},
		RecentDismissals:   []int64{},
	}
}

// Prune drops impressions older than the retention window. Called once per
// load.
func (s *UserAdState) Prune(nowMs int64) {
	cutoff := nowMs - ImpressionRetentionMs
	kept := s.Impressions[:0]
	for _, imp := range s.Impressions {
		if imp.Timestamp > cutoff {
			kept = append(kept, imp)
		}
	}
	s.Impressions = kept
}

// CountImpressionsSince counts impressions newer than cutoff, optionally
// restricted to one placement (empty placement counts all).
func (s *UserAdState) CountImpressionsSince(cutoffMs int64, placement Placement) int {
	count := 0
	for _, imp := range s.Impressions {
		if imp.Timestamp <= cutoffMs {
			continue
		}
		if placement != "" && imp.Placement != placement {
			continue
		}
		count++
	}
	return count
}

// LastImpressionTime returns the timestamp of the most recent impression,
// optionally restricted to one placement. Zero means none.
func (s *UserAdState) LastImpressionTime(placement Placement) int64 {
	var last int64
	for _, imp := range s.Impressions {
		if placement != "" && imp.Placement != placement {
			continue
		}
		if imp.Timestamp > last {
			last = imp.Timestamp
		}
	}
	return last
}

// AddDismissed appends adID to the dismissal list if not already present.
// Returns true when the id was newly added. The list is capped at
// maxDismissedAds, dropping the oldest entries first.
func (s *UserAdState) AddDismissed(adID string) bool {
	if containsString(s.DismissedAds, adID) {
		return false
	}
	s.DismissedAds = append(s.DismissedAds, adID)
	if len(s.DismissedAds) > maxDismissedAds {
		s.DismissedAds = s.DismissedAds[len(s.DismissedAds)-maxDismissedAds:]
	}
	return true
}

// AddReported appends adID to the report list if not already present.
func (s *UserAdState) AddReported(adID string) bool {
	if containsString(s.ReportedAds, adID) {
		return false
	}
	s.ReportedAds = append(s.ReportedAds, adID)
	return true
}

// AddBlockedAdvertiser appends an advertiser to the opt-out set if not
// already present.
func (s *UserAdState) AddBlockedAdvertiser(advertiserID string) bool {
	if containsString(s.BlockedAdvertisers, advertiserID) {
		return false
	}
	s.BlockedAdvertisers = append(s.BlockedAdvertisers, advertiserID)
	return true
}

// IsDismissed reports whether adID was dismissed by the user.
func (s *UserAdState) IsDismissed(adID string) bool {
	return containsString(s.DismissedAds, adID)
}

// IsReported reports whether adID was reported by the user.
func (s *UserAdState) IsReported(adID string) bool {
	return containsString(s.ReportedAds, adID)
}

// IsAdvertiserBlocked reports whether the user opted out of an advertiser.
func (s *UserAdState) IsAdvertiserBlocked(advertiserID string) bool {
	return containsString(s.BlockedAdvertisers, advertiserID)
}

// AddDismissalEvent records a dismissal timestamp for fatigue tracking,
// keeping only the most recent `limit` events.
func (s *UserAdState) AddDismissalEvent(nowMs int64, limit int) {
	s.RecentDismissals = append(s.RecentDismissals, nowMs)
	if limit > 0 && len(s.RecentDismissals) > limit {
		s.RecentDismissals = s.RecentDismissals[len(s.RecentDismissals)-limit:]
	}
}

// ContextState tracks ad activity within one screen context. It is persisted
// per context key and reset after 30 minutes of inactivity.
type ContextState struct {
	LastAdTime       int64 `json:"lastAdTime"`
	AdsInContext     int   `json:"adsInContext"`
	ContextStartTime int64 `json:"contextStartTime"`
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
