// Package metrics exposes catalog activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/soltixdb/gridcat/internal/scanner"
)

const namespace = "gridcat"

// Metrics holds the collectors of one process
type Metrics struct {
	registry *prometheus.Registry

	refreshes *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	layers    *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry, including Go runtime and
// process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Dataset refresh attempts by result and error kind.",
		}, []string{"dataset", "result", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of dataset refresh attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		}, []string{"dataset"}),
		layers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_layers",
			Help:      "Number of published layers per dataset.",
		}, []string{"dataset"}),
	}
	m.registry.MustRegister(
		m.refreshes,
		m.duration,
		m.layers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry to serve
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRefresh records one attempted refresh
func (m *Metrics) ObserveRefresh(datasetID string, err error, kind string, d time.Duration, layers int) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.refreshes.WithLabelValues(datasetID, result, kind).Inc()
	m.duration.WithLabelValues(datasetID).Observe(d.Seconds())
	m.layers.WithLabelValues(datasetID).Set(float64(layers))
}

// ForgetDataset drops the series of a removed or renamed dataset
func (m *Metrics) ForgetDataset(datasetID string) {
	labels := prometheus.Labels{"dataset": datasetID}
	m.refreshes.DeletePartialMatch(labels)
	m.duration.DeletePartialMatch(labels)
	m.layers.DeletePartialMatch(labels)
}

// StateCounts returns the number of datasets per state name
type StateCounts func() map[string]int

// stateCollector reports dataset states at scrape time
type stateCollector struct {
	desc   *prometheus.Desc
	counts StateCounts
	states []string
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.counts()
	for _, s := range c.states {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[s]), s)
	}
}

// RegisterStates exports the number of datasets in each of states,
// evaluated on every scrape
func (m *Metrics) RegisterStates(states []string, counts StateCounts) error {
	return m.registry.Register(&stateCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "datasets"),
			"Number of datasets by state.",
			[]string{"state"}, nil,
		),
		counts: counts,
		states: states,
	})
}

// RegisterScanCache exports scan cache effectiveness
func (m *Metrics) RegisterScanCache(cache *scanner.Cache) error {
	hits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan_cache",
		Name:      "hits_total",
		Help:      "Local file scans answered from the cache.",
	}, func() float64 { return float64(cache.Stats().Hits) })
	misses := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan_cache",
		Name:      "misses_total",
		Help:      "Local file scans that read the file.",
	}, func() float64 { return float64(cache.Stats().Misses) })
	entries := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scan_cache",
		Name:      "entries",
		Help:      "Files held in the scan cache.",
	}, func() float64 { return float64(cache.Stats().Entries) })

	for _, c := range []prometheus.Collector{hits, misses, entries} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
