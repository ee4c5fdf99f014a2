// Package metrics exposes the worker's Prometheus counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Account outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeSkipped    = "skipped"
	OutcomeNotLinked  = "not_linked"
	OutcomeCredential = "credential_error"
	OutcomeAuth       = "auth_error"
	OutcomeFetch      = "fetch_error"
	OutcomeStore      = "store_error"
	OutcomePanic      = "panic"
)

// Classification paths.
const (
	PathRule       = "rule"
	PathClassifier = "classifier"
	PathDropped    = "dropped"
)

// Exporter owns a private registry with the ingestion metrics.
type Exporter struct {
	registry *prometheus.Registry

	runs           prometheus.Counter
	runsSkipped    prometheus.Counter
	runDuration    prometheus.Histogram
	accounts       *prometheus.CounterVec
	messages       *prometheus.CounterVec
	inserted       prometheus.Counter
	duplicates     prometheus.Counter
	persistErrors  prometheus.Counter
	tokenRotations prometheus.Counter
	classifier     *prometheus.CounterVec
	expiredDeleted prometheus.Counter
}

// NewExporter creates the exporter and registers every collector.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,

		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailreader_runs_total",
			Help: "Ingestion runs started.",
		}),
		runsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailreader_runs_skipped_total",
			Help: "Ticks skipped because the previous run was still active.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailreader_run_duration_seconds",
			Help:    "Wall time of one ingestion run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailreader_accounts_total",
			Help: "Account cycles by outcome.",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailreader_messages_total",
			Help: "Fetched messages by classification path.",
		}, []string{"path"}),
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailreader_emails_inserted_total",
			Help: "Emails persisted.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailreader_emails_duplicate_total",
			Help: "Emails skipped because they were already stored.",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailreader_persist_errors_total",
			Help: "Emails that failed to persist.",
		}),
		tokenRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailreader_token_rotations_total",
			Help: "Rotated refresh tokens written back to the secret store.",
		}),
		classifier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailreader_classifier_results_total",
			Help: "Classifier fallback results by reason class.",
		}, []string{"result"}),
		expiredDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailreader_emails_expired_deleted_total",
			Help: "Emails removed by the retention sweep.",
		}),
	}

	registry.MustRegister(
		e.runs,
		e.runsSkipped,
		e.runDuration,
		e.accounts,
		e.messages,
		e.inserted,
		e.duplicates,
		e.persistErrors,
		e.tokenRotations,
		e.classifier,
		e.expiredDeleted,
	)

	return e
}

// Handler returns the scrape handler for the private registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) IncRuns() {
	e.runs.Inc()
}

func (e *Exporter) IncRunsSkipped() {
	e.runsSkipped.Inc()
}

func (e *Exporter) ObserveRun(d time.Duration) {
	e.runDuration.Observe(d.Seconds())
}

// IncAccount counts one account cycle with the given outcome.
func (e *Exporter) IncAccount(outcome string) {
	e.accounts.WithLabelValues(outcome).Inc()
}

// IncMessage counts one message on the given classification path.
func (e *Exporter) IncMessage(path string) {
	e.messages.WithLabelValues(path).Inc()
}

func (e *Exporter) IncInserted() {
	e.inserted.Inc()
}

func (e *Exporter) IncDuplicate() {
	e.duplicates.Inc()
}

func (e *Exporter) IncPersistError() {
	e.persistErrors.Inc()
}

func (e *Exporter) IncTokenRotation() {
	e.tokenRotations.Inc()
}

// IncClassifier counts a classifier result. result is the reason for
// the fixed fallbacks ("llm_disabled", "llm_error") and "llm" otherwise.
func (e *Exporter) IncClassifier(result string) {
	e.classifier.WithLabelValues(result).Inc()
}

func (e *Exporter) AddExpiredDeleted(n int64) {
	e.expiredDeleted.Add(float64(n))
}
