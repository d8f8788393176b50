package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StateSource is what the collector reads on every scrape.
type StateSource interface {
	IndexSize() (tokens int, targets int)
	PendingAdmissions() int
}

// StateCollector reports index and ledger sizes at scrape time.
type StateCollector struct {
	source StateSource
}

func ExposeStateMetrics(registerer prometheus.Registerer, source StateSource) *StateCollector {
	collector := &StateCollector{source: source}
	registerer.MustRegister(collector)
	return collector
}

var indexTokensDesc = prometheus.NewDesc(
	MetricPrefix+"index_tokens",
	"Number of tokens in the status index",
	nil,
	nil,
)

var indexTargetsDesc = prometheus.NewDesc(
	MetricPrefix+"index_targets",
	"Number of targets in the status index",
	nil,
	nil,
)

var pendingAdmissionsDesc = prometheus.NewDesc(
	MetricPrefix+"pending_admissions",
	"Admitted imports not yet seen by the relay",
	nil,
	nil,
)

func (c *StateCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- indexTokensDesc
	desc <- indexTargetsDesc
	desc <- pendingAdmissionsDesc
}

func (c *StateCollector) Collect(metrics chan<- prometheus.Metric) {
	tokens, targets := c.source.IndexSize()
	metrics <- prometheus.MustNewConstMetric(indexTokensDesc, prometheus.GaugeValue, float64(tokens))
	metrics <- prometheus.MustNewConstMetric(indexTargetsDesc, prometheus.GaugeValue, float64(targets))
	metrics <- prometheus.MustNewConstMetric(pendingAdmissionsDesc, prometheus.GaugeValue, float64(c.source.PendingAdmissions()))
}
