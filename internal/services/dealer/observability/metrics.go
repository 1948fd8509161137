// Package observability holds the dealer's Prometheus collectors.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "housedealer"

// Metrics are the dealer collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	moves            *prometheus.CounterVec
	moveDuration     *prometheus.HistogramVec
	sponsorAttempts  *prometheus.CounterVec
	matcherLookups   *prometheus.CounterVec
	journalReuse     prometheus.Counter
	duplicateMatches prometheus.Counter
	eventsProcessed  *prometheus.CounterVec
	gamesInFlight    prometheus.Gauge
}

// NewMetrics builds and registers the collectors. service is attached to
// every series as a constant label.
func NewMetrics(service string) *Metrics {
	registry := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	m := &Metrics{
		registry: registry,
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_total",
			Help:      "House moves by kind and result code.",
		}, []string{"kind", "result"}),
		moveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "move_duration_seconds",
			Help:      "Time from trigger to confirmed move.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		sponsorAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sponsor_attempts_total",
			Help:      "Fee sponsorship attempts by outcome.",
		}, []string{"outcome"}),
		matcherLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matcher_lookups_total",
			Help:      "Move request lookups by strategy and result.",
		}, []string{"strategy", "result"}),
		journalReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draw_journal_reuse_total",
			Help:      "Draws served from the journal instead of re-signed.",
		}),
		duplicateMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matcher_duplicate_requests_total",
			Help:      "Lookups that found more than one matching request.",
		}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Ledger events handled by the listener.",
		}, []string{"event", "outcome"}),
		gamesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "games_in_flight",
			Help:      "Games with a house move currently running.",
		}),
	}

	registerer.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}))
	registerer.MustRegister(prometheus.NewGoCollector())
	registerer.MustRegister(
		m.moves,
		m.moveDuration,
		m.sponsorAttempts,
		m.matcherLookups,
		m.journalReuse,
		m.duplicateMatches,
		m.eventsProcessed,
		m.gamesInFlight,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveMove records a finished move. A nil receiver is a no-op so
// callers can run without metrics.
func (m *Metrics) ObserveMove(kind, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.moves.WithLabelValues(kind, result).Inc()
	m.moveDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveSponsorAttempt counts one sponsorship attempt.
func (m *Metrics) ObserveSponsorAttempt(outcome string) {
	if m == nil {
		return
	}
	m.sponsorAttempts.WithLabelValues(outcome).Inc()
}

// ObserveLookup counts one matcher lookup.
func (m *Metrics) ObserveLookup(strategy, result string) {
	if m == nil {
		return
	}
	m.matcherLookups.WithLabelValues(strategy, result).Inc()
}

// ObserveDuplicateMatch counts an ambiguous request search.
func (m *Metrics) ObserveDuplicateMatch() {
	if m == nil {
		return
	}
	m.duplicateMatches.Inc()
}

// ObserveJournalReuse counts a draw reused from the journal.
func (m *Metrics) ObserveJournalReuse() {
	if m == nil {
		return
	}
	m.journalReuse.Inc()
}

// ObserveEvent counts one listener event.
func (m *Metrics) ObserveEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(event, outcome).Inc()
}

// GameStarted and GameFinished bracket a move.
func (m *Metrics) GameStarted() {
	if m == nil {
		return
	}
	m.gamesInFlight.Inc()
}

func (m *Metrics) GameFinished() {
	if m == nil {
		return
	}
	m.gamesInFlight.Dec()
}
