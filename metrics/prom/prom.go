// Package prom exposes a cache's Stats snapshot as a
// prometheus.Collector. Register one collector per cache instance; the
// region label keeps shared-table deployments apart.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/spoolcache"
)

// Statser is the slice of the cache surface the collector needs.
type Statser interface {
	Stats() spoolcache.Stats
}

type Collector struct {
	src Statser

	updates   *prometheus.Desc
	gets      *prometheus.Desc
	purgHits  *prometheus.Desc
	dropped   *prometheus.Desc
	backErrs  *prometheus.Desc
	purgSize  *prometheus.Desc
	depth     *prometheus.Desc
	destroyed *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(src Statser) *Collector {
	labels := []string{"region"}
	return &Collector{
		src: src,
		updates: prometheus.NewDesc("spoolcache_updates_total",
			"Entries accepted by Update.", labels, nil),
		gets: prometheus.NewDesc("spoolcache_gets_total",
			"Get calls served.", labels, nil),
		purgHits: prometheus.NewDesc("spoolcache_purgatory_hits_total",
			"Reads that rescued an entry from the write queue.", labels, nil),
		dropped: prometheus.NewDesc("spoolcache_dropped_events_total",
			"Persistence events dropped before reaching the backend.", labels, nil),
		backErrs: prometheus.NewDesc("spoolcache_backend_errors_total",
			"Backend operation failures.", labels, nil),
		purgSize: prometheus.NewDesc("spoolcache_purgatory_size",
			"Entries currently staged in purgatory.", labels, nil),
		depth: prometheus.NewDesc("spoolcache_queue_depth",
			"Events appended but not yet processed.", labels, nil),
		destroyed: prometheus.NewDesc("spoolcache_queue_destroyed",
			"1 when the event queue hit its terminal state.", labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.updates
	ch <- c.gets
	ch <- c.purgHits
	ch <- c.dropped
	ch <- c.backErrs
	ch <- c.purgSize
	ch <- c.depth
	ch <- c.destroyed
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.updates, prometheus.CounterValue, float64(s.UpdateCount), s.Region)
	ch <- prometheus.MustNewConstMetric(c.gets, prometheus.CounterValue, float64(s.GetCount), s.Region)
	ch <- prometheus.MustNewConstMetric(c.purgHits, prometheus.CounterValue, float64(s.PurgatoryHits), s.Region)
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.DroppedEvents), s.Region)
	ch <- prometheus.MustNewConstMetric(c.backErrs, prometheus.CounterValue, float64(s.BackendErrors), s.Region)
	ch <- prometheus.MustNewConstMetric(c.purgSize, prometheus.GaugeValue, float64(s.PurgatorySize), s.Region)
	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(s.QueueDepth), s.Region)

	destroyed := 0.0
	if s.QueueDestroyed {
		destroyed = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.destroyed, prometheus.GaugeValue, destroyed, s.Region)
}
