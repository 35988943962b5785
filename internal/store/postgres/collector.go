package postgres

import "github.com/prometheus/client_golang/prometheus"

// StatsSource is anything that can report pool usage
type StatsSource interface {
	Stat() PoolStats
}

// StatsCollector exports PoolStats as Prometheus metrics
type StatsCollector struct {
	source StatsSource

	acquired        *prometheus.Desc
	idle            *prometheus.Desc
	total           *prometheus.Desc
	max             *prometheus.Desc
	acquireCount    *prometheus.Desc
	canceledAcquire *prometheus.Desc
	emptyAcquire    *prometheus.Desc
	acquireSeconds  *prometheus.Desc
}

// NewStatsCollector creates a collector reading from source on every scrape
func NewStatsCollector(source StatsSource) *StatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("thundertext", "db_pool", name), help, nil, nil)
	}
	return &StatsCollector{
		source:          source,
		acquired:        desc("acquired_conns", "Connections currently borrowed."),
		idle:            desc("idle_conns", "Idle connections in the pool."),
		total:           desc("total_conns", "Open connections in the pool."),
		max:             desc("max_conns", "Configured maximum pool size."),
		acquireCount:    desc("acquires_total", "Successful acquires since start."),
		canceledAcquire: desc("canceled_acquires_total", "Acquires abandoned because their context ended."),
		emptyAcquire:    desc("empty_acquires_total", "Acquires that had to wait for a free connection."),
		acquireSeconds:  desc("acquire_seconds_total", "Time spent waiting in Acquire."),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.acquireCount
	ch <- c.canceledAcquire
	ch <- c.emptyAcquire
	ch <- c.acquireSeconds
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(s.AcquireCount))
	ch <- prometheus.MustNewConstMetric(c.canceledAcquire, prometheus.CounterValue, float64(s.CanceledAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.acquireSeconds, prometheus.CounterValue, s.AcquireDuration.Seconds())
}
