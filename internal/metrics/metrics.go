// Package metrics defines the prometheus collectors for the scheduler,
// engines and review pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "mission_control"

	// Labels
	engineLabel  = "engine"
	statusLabel  = "status"
	outcomeLabel = "outcome"
	tierLabel    = "tier"
	typeLabel    = "job_type"
)

// Claim outcomes.
const (
	ClaimWon      = "won"
	ClaimConflict = "conflict"
	ClaimEmpty    = "empty"
)

var claimsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "claims_total",
		Help:      "claim attempts partitioned by outcome",
	},
	[]string{outcomeLabel},
)

var ticksSkippedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "ticks_skipped_total",
		Help:      "scheduler ticks skipped, by reason",
	},
	[]string{"reason"},
)

var jobsFinishedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "jobs_finished_total",
		Help:      "completed engine runs by job type and resulting status",
	},
	[]string{typeLabel, statusLabel},
)

var engineDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "engine_run_seconds",
		Help:      "engine run duration",
		Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800},
	},
	[]string{engineLabel},
)

var reviewTotalMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "review_total_score",
		Help:      "distribution of QA review totals",
		Buckets:   []float64{5, 15, 25, 30, 35, 40, 45, 50},
	},
)

var tierRoutedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "messages_routed_total",
		Help:      "inbound messages by selected tier",
	},
	[]string{tierLabel},
)

var actionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "actions_total",
		Help:      "dispatched actions by type and outcome",
	},
	[]string{"type", outcomeLabel},
)

var backoffIntervalMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "tick_interval_seconds",
		Help:      "current scheduler tick interval including backoff",
	},
)

// IncClaim counts a claim attempt.
func IncClaim(outcome string) {
	claimsTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

// IncTickSkipped counts a tick or single claim skipped by settings.
func IncTickSkipped(reason string) {
	ticksSkippedMetric.With(prometheus.Labels{"reason": reason}).Inc()
}

// ObserveRun records a finished engine run.
func ObserveRun(engine, jobType, status string, seconds float64) {
	engineDurationMetric.With(prometheus.Labels{engineLabel: engine}).Observe(seconds)
	jobsFinishedMetric.With(prometheus.Labels{typeLabel: jobType, statusLabel: status}).Inc()
}

// ObserveReview records a QA total.
func ObserveReview(total int) {
	reviewTotalMetric.Observe(float64(total))
}

// IncTier counts a routed message.
func IncTier(tier string) {
	tierRoutedMetric.With(prometheus.Labels{tierLabel: tier}).Inc()
}

// IncAction counts a dispatched action.
func IncAction(actionType string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	actionsTotalMetric.With(prometheus.Labels{"type": actionType, outcomeLabel: outcome}).Inc()
}

// SetTickInterval publishes the scheduler's current interval.
func SetTickInterval(seconds float64) {
	backoffIntervalMetric.Set(seconds)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(claimsTotalMetric)
	prometheus.MustRegister(ticksSkippedMetric)
	prometheus.MustRegister(jobsFinishedMetric)
	prometheus.MustRegister(engineDurationMetric)
	prometheus.MustRegister(reviewTotalMetric)
	prometheus.MustRegister(tierRoutedMetric)
	prometheus.MustRegister(actionsTotalMetric)
	prometheus.MustRegister(backoffIntervalMetric)
}
