// Package metrics holds the Prometheus collectors for the design index.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kioku"

var (
	// searchLatency measures retriever calls.
	// Labels: operation (search, similar, suggest_next, best_design), granularity
	searchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retriever",
		Name:      "latency_seconds",
		Help:      "Retriever operation latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"operation", "granularity"})

	// searchResults tracks how many results a search returned.
	searchResults = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retriever",
		Name:      "results",
		Help:      "Number of results returned per search",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	}, []string{"granularity"})

	// searchDegraded counts searches that ran without a query embedding.
	searchDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retriever",
		Name:      "semantic_degraded_total",
		Help:      "Searches that fell back to structural and keyword scoring",
	})

	// feedbackSignals counts applied feedback signals.
	// Labels: signal, outcome (ok, error)
	feedbackSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feedback",
		Name:      "signals_total",
		Help:      "Feedback signals applied",
	}, []string{"signal", "outcome"})

	// reviewFlags counts slides newly flagged for curation.
	reviewFlags = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feedback",
		Name:      "review_flags_total",
		Help:      "Slides flagged for review after repeated regeneration",
	})

	// decksIngested counts ingestion outcomes.
	// Labels: outcome (persisted, unchanged, failed)
	decksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "decks_total",
		Help:      "Deck ingestion outcomes",
	}, []string{"outcome"})

	// enrichments counts enrichment units.
	// Labels: kind, outcome (ok, failed)
	enrichments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "enrich",
		Name:      "units_total",
		Help:      "Enrichment units processed",
	}, []string{"kind", "outcome"})

	// watchEvents counts drop-folder ingestion attempts.
	// Labels: outcome (ingested, unchanged, failed)
	watchEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watch",
		Name:      "files_total",
		Help:      "Watched files processed",
	}, []string{"outcome"})

	// httpRequests counts API requests.
	// Labels: route, status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP API requests",
	}, []string{"route", "status"})

	enrichLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "enrich",
		Name:      "unit_seconds",
		Help:      "Time to compute and store one enrichment",
		Buckets:   prometheus.DefBuckets,
	})
)

// ObserveSearch records one retriever call.
func ObserveSearch(operation, granularity string, started time.Time, results int) {
	searchLatency.WithLabelValues(operation, granularity).Observe(time.Since(started).Seconds())
	if operation == "search" {
		searchResults.WithLabelValues(granularity).Observe(float64(results))
	}
}

// SemanticDegraded records a search without a query embedding.
func SemanticDegraded() { searchDegraded.Inc() }

// FeedbackSignal records one applied signal.
func FeedbackSignal(signal string, err error) {
	feedbackSignals.WithLabelValues(signal, outcome(err)).Inc()
}

// ReviewFlagged records a slide newly flagged for review.
func ReviewFlagged() { reviewFlags.Inc() }

// DeckIngested records one ingestion outcome.
func DeckIngested(outcome string) { decksIngested.WithLabelValues(outcome).Inc() }

// Enrichment records one enrichment unit.
func Enrichment(kind string, started time.Time, err error) {
	enrichments.WithLabelValues(kind, outcome(err)).Inc()
	enrichLatency.Observe(time.Since(started).Seconds())
}

// WatchEvent records one watched file outcome.
func WatchEvent(outcome string) { watchEvents.WithLabelValues(outcome).Inc() }

// HTTPRequest records one API request.
func HTTPRequest(route string, status int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
