package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "importtracker_"

// Outcomes of applying a status message.
const (
	OutcomeApplied   = "applied"
	OutcomeStale     = "stale"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
)

type Metrics struct {
	submissions     *prometheus.CounterVec
	queries         *prometheus.CounterVec
	statusUpdates   *prometheus.CounterVec
	relayed         *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	corruptEntries  prometheus.Counter
	evicted         prometheus.Counter
	handlerLatency  *prometheus.HistogramVec
}

// New registers the tracker's metrics with registerer. Pass nil to leave them unregistered.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "submissions_total",
			Help: "Import submissions by subsystem and result",
		}, []string{"subsystem", "result"}),
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "status_queries_total",
			Help: "Status queries by result",
		}, []string{"result"}),
		statusUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "status_updates_total",
			Help: "Status messages received by subsystem and outcome",
		}, []string{"subsystem", "outcome"}),
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "relayed_total",
			Help: "Messages relayed from the incoming to the processing channel",
		}, []string{"subsystem"}),
		publishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "publish_failures_total",
			Help: "Failed publish attempts by channel",
		}, []string{"channel"}),
		corruptEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "corrupt_entries_total",
			Help: "Index entries found with an unknown state",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "evicted_total",
			Help: "Index entries removed after being idle",
		}),
		handlerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricPrefix + "handler_latency_seconds",
			Help:    "Time to handle one message by channel",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"channel"}),
	}
}

func (m *Metrics) RecordSubmission(subsystem string, result string) {
	m.submissions.WithLabelValues(subsystem, result).Inc()
}

func (m *Metrics) RecordQuery(result string) {
	m.queries.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordStatusUpdate(subsystem string, outcome string) {
	m.statusUpdates.WithLabelValues(subsystem, outcome).Inc()
}

func (m *Metrics) RecordRelayed(subsystem string) {
	m.relayed.WithLabelValues(subsystem).Inc()
}

func (m *Metrics) RecordPublishFailure(channel string) {
	m.publishFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) RecordCorruptEntry() {
	m.corruptEntries.Inc()
}

func (m *Metrics) RecordEvicted(n int) {
	m.evicted.Add(float64(n))
}

func (m *Metrics) ObserveHandler(channel string, seconds float64) {
	m.handlerLatency.WithLabelValues(channel).Observe(seconds)
}
