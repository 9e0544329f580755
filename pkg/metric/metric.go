// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ad policy service.
type Metrics struct {
	// Eligibility metrics
	EligibilityChecks *prometheus.CounterVec
	BlockedTotal      *prometheus.CounterVec

	// Recording metrics
	ImpressionsRecorded *prometheus.CounterVec
	ViewableImpressions prometheus.Counter
	ClicksRecorded      prometheus.Counter
	DismissalsRecorded  prometheus.Counter
	ReportsRecorded     prometheus.Counter

	// Viewability metrics
	ViewDurationSeconds prometheus.Histogram

	// Storage metrics
	StorageErrors prometheus.Counter
}

// New creates a metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EligibilityChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adpolicy",
			Name:      "eligibility_checks_total",
			Help:      "Total eligibility checks by placement and result",
		}, []string{"placement", "result"}),

		BlockedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adpolicy",
			Name:      "blocked_total",
			Help:      "Total blocked eligibility checks by reason",
		}, []string{"reason"}),

		ImpressionsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adpolicy",
			Name:      "impressions_recorded_total",
			Help:      "Total impressions recorded by placement",
		}, []string{"placement"}),

		ViewableImpressions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "adpolicy",
			Name:      "viewable_impressions_total",
			Help:      "Total confirmed viewable impressions",
		}),

		ClicksRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "adpolicy",
			Name:      "clicks_recorded_total",
			Help:      "Total clicks recorded",
		}),

		DismissalsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "adpolicy",
			Name:      "dismissals_recorded_total",
			Help:      "Total ad dismissals recorded",
		}),

		ReportsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "adpolicy",
			Name:      "reports_recorded_total",
			Help:      "Total ad reports recorded",
		}),

		ViewDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adpolicy",
			Name:      "view_duration_seconds",
			Help:      "View duration of tracked ad instances",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		StorageErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "adpolicy",
			Name:      "storage_errors_total",
			Help:      "Total storage read/write failures",
		}),
	}
}

// NewNop returns metrics on a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
