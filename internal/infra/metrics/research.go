package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		researchJobsCreatedTotal,
		researchJobsFinishedTotal,
		researchPollsTotal,
		researchPollLatencyMs,
		researchStallsTotal,
		researchRecoveriesTotal,
		researchActiveObservers,
		researchStageIndex,
	)
}

var (
	researchJobsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_jobs_created_total",
			Help: "Total research jobs created.",
		},
	)

	researchJobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_jobs_finished_total",
			Help: "Research jobs reaching a terminal state, labeled by status.",
		},
		[]string{"status"}, // 'completed', 'error', 'cancelled'
	)

	researchPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_polls_total",
			Help: "Observer record fetches.",
		},
	)

	researchPollLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_poll_latency_ms",
			Help:    "Record fetch latency distribution in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	researchStallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_stalls_detected_total",
			Help: "Stall verdicts, labeled by reason.",
		},
		[]string{"reason"},
	)

	researchRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_recoveries_total",
			Help: "Recovery dispatches, labeled by result (ok/rejected/failed).",
		},
		[]string{"result"},
	)

	researchActiveObservers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_active_observers",
			Help: "Jobs currently being observed.",
		},
	)

	researchStageIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_stage_index",
			Help: "Current stage index (0-5) per observed job.",
		},
		[]string{"job_id"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncJobCreated() { researchJobsCreatedTotal.Inc() }

func IncJobFinished(status string) {
	researchJobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func ObservePoll(latencyMs float64) {
	researchPollsTotal.Inc()
	researchPollLatencyMs.Observe(latencyMs)
}

func IncStall(reason string) {
	researchStallsTotal.WithLabelValues(norm(reason)).Inc()
}

func IncRecovery(result string) {
	researchRecoveriesTotal.WithLabelValues(norm(result)).Inc()
}

func ObserverAttached() { researchActiveObservers.Inc() }

func ObserverDetached(jobID string) {
	researchActiveObservers.Dec()
	researchStageIndex.DeleteLabelValues(jobID)
}

func SetStageIndex(jobID string, idx int) {
	researchStageIndex.WithLabelValues(jobID).Set(float64(idx))
}
