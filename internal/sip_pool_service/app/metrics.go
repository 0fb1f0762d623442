package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assignmentsTotalCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sip_pool",
			Name:      "assignments_total",
			Help:      "Total credential assignment attempts.",
		},
		[]string{"mode", "result"}, // mode: "next"|"specific"; result: "assigned", "conflict", "pool_exhausted", "not_found", "error"
	)

	assignConflictRetriesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sip_pool",
			Name:      "assign_conflict_retries_total",
			Help:      "Candidate CAS attempts lost to a concurrent assignment.",
		},
	)

	releasesTotalCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sip_pool",
			Name:      "releases_total",
			Help:      "Total credential releases.",
		},
		[]string{"mode"}, // "owner", "admin", "logout", "noop"
	)

	assignmentDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sip_pool",
			Name:      "assignment_duration_seconds",
			Help:      "Duration of assignment operations including CAS retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)
