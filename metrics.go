package tiercache

import "github.com/prometheus/client_golang/prometheus"

// statsCollector exposes a Stats snapshot as Prometheus metrics. Counters
// are reported as const metrics straight from the snapshot, so the collector
// holds no state of its own.
type statsCollector struct {
	stats func() Stats

	requestsTotal  *prometheus.Desc
	hitsTotal      *prometheus.Desc
	missesTotal    *prometheus.Desc
	dedupTotal     *prometheus.Desc
	diskEntries    *prometheus.Desc
	diskBytes      *prometheus.Desc
	evictionsTotal *prometheus.Desc
	expiredTotal   *prometheus.Desc
	corruptedTotal *prometheus.Desc
}

// Collector returns a prometheus.Collector over the coordinator's
// statistics, suitable for a custom registry:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(coord.Collector())
func (c *Coordinator[T]) Collector() prometheus.Collector {
	return newStatsCollector(c.Stats)
}

func newStatsCollector(stats func() Stats) *statsCollector {
	return &statsCollector{
		stats: stats,
		requestsTotal: prometheus.NewDesc(
			"tiercache_requests_total",
			"Total number of coordinator Get calls.",
			nil, nil,
		),
		hitsTotal: prometheus.NewDesc(
			"tiercache_hits_total",
			"Requests served from a cache tier, by tier and freshness.",
			[]string{"tier", "freshness"}, nil,
		),
		missesTotal: prometheus.NewDesc(
			"tiercache_misses_total",
			"Requests that had to wait on the producer.",
			nil, nil,
		),
		dedupTotal: prometheus.NewDesc(
			"tiercache_deduplicated_requests_total",
			"Producer requests that attached to an in-flight call.",
			nil, nil,
		),
		diskEntries: prometheus.NewDesc(
			"tiercache_disk_entries",
			"Current entry count in the durable tier.",
			nil, nil,
		),
		diskBytes: prometheus.NewDesc(
			"tiercache_disk_bytes",
			"Current payload bytes in the durable tier.",
			nil, nil,
		),
		evictionsTotal: prometheus.NewDesc(
			"tiercache_evictions_total",
			"Entries evicted to satisfy a capacity budget, by tier.",
			[]string{"tier"}, nil,
		),
		expiredTotal: prometheus.NewDesc(
			"tiercache_expired_removed_total",
			"Durable entries removed because their TTL elapsed.",
			nil, nil,
		),
		corruptedTotal: prometheus.NewDesc(
			"tiercache_corrupted_entries_total",
			"Durable entries dropped because they failed to read or decode.",
			nil, nil,
		),
	}
}

func (sc *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.requestsTotal
	ch <- sc.hitsTotal
	ch <- sc.missesTotal
	ch <- sc.dedupTotal
	ch <- sc.diskEntries
	ch <- sc.diskBytes
	ch <- sc.evictionsTotal
	ch <- sc.expiredTotal
	ch <- sc.corruptedTotal
}

func (sc *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := sc.stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(sc.requestsTotal, s.TotalRequests)
	counter(sc.hitsTotal, s.MemoryHits, "memory", "fresh")
	counter(sc.hitsTotal, s.DiskHits, "disk", "fresh")
	counter(sc.hitsTotal, s.StaleHits, "disk", "stale")
	counter(sc.missesTotal, s.Misses)
	counter(sc.dedupTotal, s.Flight.DeduplicatedRequests)
	gauge(sc.diskEntries, float64(s.Disk.Entries))
	gauge(sc.diskBytes, float64(s.Disk.TotalBytes))
	counter(sc.evictionsTotal, s.Memory.Evictions, "memory")
	counter(sc.evictionsTotal, s.Disk.Evictions, "disk")
	counter(sc.expiredTotal, s.Disk.Expired)
	counter(sc.corruptedTotal, s.Disk.Corrupted)
}
