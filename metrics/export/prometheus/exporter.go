package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careermate/authcore/metrics"
)

// Source is implemented by *authcore.Engine.
type Source interface {
	MetricsSnapshot() metrics.Snapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   metrics.ID
	desc *prometheus.Desc
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	source       Source
	counters     []counterDesc
	histograms   []counterDesc
	auditDropped *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(source Source) *Collector {
	c := &Collector{
		source:       source,
		counters:     make([]counterDesc, 0, len(metrics.CounterDefs)),
		histograms:   make([]counterDesc, 0, len(metrics.HistogramDefs)),
		auditDropped: prometheus.NewDesc("authcore_audit_dropped_total", "Audit events dropped because the dispatcher buffer was full.", nil, nil),
	}
	for _, d := range metrics.CounterDefs {
		c.counters = append(c.counters, counterDesc{d.ID, prometheus.NewDesc(d.Name, d.Help, nil, nil)})
	}
	for _, d := range metrics.HistogramDefs {
		c.histograms = append(c.histograms, counterDesc{d.ID, prometheus.NewDesc(d.Name, d.Help, nil, nil)})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.histograms {
		ch <- d.desc
	}
	ch <- c.auditDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snap := c.source.MetricsSnapshot()

	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(snap.Counters[d.id]))
	}
	for _, d := range c.histograms {
		raw, ok := snap.Histograms[d.id]
		if !ok {
			continue
		}
		cum := metrics.Cumulative(raw)
		buckets := make(map[float64]uint64, len(metrics.BucketBounds))
		for i, le := range metrics.BucketBounds {
			buckets[le] = cum[i]
		}
		ch <- prometheus.MustNewConstHistogram(d.desc, cum[metrics.BucketCount-1], snap.Sums[d.id].Seconds(), buckets)
	}
	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler serves the collector from a private registry.
func Handler(source Source) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
