package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Campaign messages handled by the scheduler, by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	dispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_inflight",
			Help: "Campaign messages currently being delivered",
		},
	)

	dispatchCreditExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_credit_exhausted_total",
			Help: "Campaigns paused because their owner ran out of credits",
		},
	)

	dispatchCommitFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_commit_failures_total",
			Help: "Delivered messages whose credit could not be committed",
		},
	)

	schedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduler pass over all active campaigns",
			Buckets: prometheus.DefBuckets,
		},
	)
)
