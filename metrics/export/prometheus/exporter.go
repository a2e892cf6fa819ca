// Package prometheus exposes engine counters as a
// prometheus/client_golang collector.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	issueguard "github.com/tracksec/issueguard"
)

// Source is the engine surface the collector reads. *issueguard.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() issueguard.MetricsSnapshot
	AuditDropped() uint64
}

// Collector adapts engine counters to the Prometheus collect protocol.
// Register it with a prometheus.Registerer and serve promhttp as usual.
type Collector struct {
	source    Source
	namespace string

	mu      sync.Mutex
	descs   map[issueguard.MetricID]*prometheus.Desc
	dropped *prometheus.Desc
}

// NewCollector creates a [Collector]. namespace prefixes every metric name;
// empty defaults to "issueguard".
func NewCollector(source Source, namespace string) *Collector {
	if namespace == "" {
		namespace = "issueguard"
	}
	return &Collector{
		source:    source,
		namespace: namespace,
		descs:     make(map[issueguard.MetricID]*prometheus.Desc),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "audit_dropped_total"),
			"Audit events discarded under the best-effort policy.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector. Descriptors are derived from
// the live counter set, so it delegates to Collect via DescribeByCollect
// semantics.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.source.MetricsSnapshot()
	for id, value := range snapshot.Counters {
		ch <- prometheus.MustNewConstMetric(c.desc(id), prometheus.CounterValue, float64(value))
	}
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

func (c *Collector) desc(id issueguard.MetricID) *prometheus.Desc {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.descs[id]; ok {
		return d
	}
	d := prometheus.NewDesc(
		prometheus.BuildFQName(c.namespace, "", id.Name()+"_total"),
		"Engine counter "+id.Name()+".",
		nil, nil,
	)
	c.descs[id] = d
	return d
}
