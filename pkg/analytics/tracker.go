package analytics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType represents the type of analytics event
type EventType string

const (
	EventImpression         EventType = "impression"
	EventViewableImpression EventType = "viewable_impression"
	EventClick              EventType = "click"
	EventDismissal          EventType = "dismissal"
	EventReport             EventType = "report"
)

// Event is one telemetry record. Fire-and-forget: no response is awaited.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	AdID      string          `json:"adId,omitempty"`
	Placement string          `json:"placement,omitempty"`
	Context   string          `json:"context,omitempty"`
	ECPM      decimal.Decimal `json:"ecpm"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Recorder accepts telemetry events.
type Recorder interface {
	Record(Event)
}

// Tracker collects ad lifecycle events: real-time counters, a bounded event
// log, and fan-out to live subscribers. Dropping events under pressure is
// accepted; telemetry never blocks the decision path.
type Tracker struct {
	Impressions         atomic.Uint64
	ViewableImpressions atomic.Uint64
	Clicks              atomic.Uint64
	Dismissals          atomic.Uint64
	Reports             atomic.Uint64

	mu          sync.RWMutex
	totalECPM   decimal.Decimal
	events      []Event
	maxEvents   int
	subscribers map[chan Event]struct{}
}

// RealTimeMetrics is a snapshot of tracker counters.
type RealTimeMetrics struct {
	Impressions         uint64          `json:"impressions"`
	ViewableImpressions uint64          `json:"viewableImpressions"`
	Clicks              uint64          `json:"clicks"`
	Dismissals          uint64          `json:"dismissals"`
	Reports             uint64          `json:"reports"`
	ViewabilityRate     float64         `json:"viewabilityRate"`
	CTR                 float64         `json:"ctr"`
	TotalECPM           decimal.Decimal `json:"totalEcpm"`
}

// NewTracker creates a tracker retaining at most maxEvents recent events.
func NewTracker(maxEvents int) *Tracker {
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &Tracker{
		maxEvents:   maxEvents,
		totalECPM:   decimal.Zero,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Record ingests one event, filling ID and timestamp when absent.
func (t *Tracker) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	switch ev.Type {
	case EventImpression:
		t.Impressions.Add(1)
	case EventViewableImpression:
		t.ViewableImpressions.Add(1)
	case EventClick:
		t.Clicks.Add(1)
	case EventDismissal:
		t.Dismissals.Add(1)
	case EventReport:
		t.Reports.Add(1)
	}

	t.mu.Lock()
	if !ev.ECPM.IsZero() {
		t.totalECPM = t.totalECPM.Add(ev.ECPM)
	}
	t.events = append(t.events, ev)
	if len(t.events) > t.maxEvents {
		t.events = t.events[len(t.events)-t.maxEvents:]
	}
	for sub := range t.subscribers {
		select {
		case sub <- ev:
		default:
			// Slow subscriber, drop
		}
	}
	t.mu.Unlock()
}

// Subscribe returns a channel of live events and a cancel func. The channel
// drops events when the subscriber falls behind.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if _, ok := t.subscribers[ch]; ok {
			delete(t.subscribers, ch)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// QueryFilter selects events from the retained log.
type QueryFilter struct {
	Start time.Time
	End   time.Time
	Types []EventType
	AdID  string
	Limit int
}

// Query returns retained events matching the filter, oldest first.
func (t *Tracker) Query(filter QueryFilter) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make([]Event, 0)
	for _, ev := range t.events {
		if !filter.Start.IsZero() && ev.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && ev.Timestamp.After(filter.End) {
			continue
		}
		if filter.AdID != "" && ev.AdID != filter.AdID {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, ev.Type) {
			continue
		}
		results = append(results, ev)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results
}

// Snapshot returns current real-time metrics.
func (t *Tracker) Snapshot() RealTimeMetrics {
	imps := t.Impressions.Load()
	viewable := t.ViewableImpressions.Load()
	clicks := t.Clicks.Load()

	m := RealTimeMetrics{
		Impressions:         imps,
		ViewableImpressions: viewable,
		Clicks:              clicks,
		Dismissals:          t.Dismissals.Load(),
		Reports:             t.Reports.Load(),
	}
	if imps > 0 {
		m.ViewabilityRate = float64(viewable) / float64(imps)
		m.CTR = float64(clicks) / float64(imps)
	}

	t.mu.RLock()
	m.TotalECPM = t.totalECPM
	t.mu.RUnlock()
	return m
}

func containsType(types []EventType, t EventType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
