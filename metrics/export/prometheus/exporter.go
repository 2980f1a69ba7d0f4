package prometheus

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	goAudit "github.com/MrEthical07/goAudit"
	"github.com/MrEthical07/goAudit/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() goAudit.MetricsSnapshot
	Buffered() int
}

type counterDesc struct {
	id   goAudit.MetricID
	desc *prom.Desc
}

type histogramDesc struct {
	id   goAudit.MetricID
	desc *prom.Desc
}

// Exporter is a prometheus.Collector that reads trail metrics on every
// scrape.
type Exporter struct {
	source     metricsSource
	counters   []counterDesc
	histograms []histogramDesc
	buffered   *prom.Desc
}

var _ prom.Collector = (*Exporter)(nil)

// NewExporter creates a collector over trail.
func NewExporter(trail *goAudit.Trail) *Exporter {
	return NewExporterFromSource(trail)
}

// NewExporterFromSource creates a collector over any source exposing a
// metrics snapshot and buffer depth.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		buffered:   prom.NewDesc(internaldefs.BufferedName, internaldefs.BufferedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return e
}

func (e *Exporter) Describe(ch chan<- *prom.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.buffered
}

func (e *Exporter) Collect(ch chan<- prom.Metric) {
	if e == nil || e.source == nil {
		return
	}
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		ch <- prom.MustNewConstMetric(c.desc, prom.CounterValue, float64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[i]
		}
		// Snapshots carry bucket counts only, so the sum is reported as zero.
		ch <- prom.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}
	ch <- prom.MustNewConstMetric(e.buffered, prom.GaugeValue, float64(e.source.Buffered()))
}

// Handler serves the exporter from a private registry.
func (e *Exporter) Handler() http.Handler {
	reg := prom.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
