package admin

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/larkspur-labs/proxycache/internal/cache"
)

// collector is a prometheus.Collector that reads the cache's running
// counters and the loop's active-connection gauges directly at scrape
// time, rather than shadowing them in a second set of promauto counters
// that could drift from the source of truth.
type collector struct {
	cache    *cache.Cache
	activity ActivityGauges

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	size      *prometheus.Desc
	clients   *prometheus.Desc
	tunnels   *prometheus.Desc
}

func newCollector(c *cache.Cache, activity ActivityGauges) *collector {
	return &collector{
		cache:    c,
		activity: activity,
		hits:      prometheus.NewDesc("proxycache_cache_hits_total", "Total cache hits.", nil, nil),
		misses:    prometheus.NewDesc("proxycache_cache_misses_total", "Total cache misses.", nil, nil),
		evictions: prometheus.NewDesc("proxycache_cache_evictions_total", "Total cache evictions.", nil, nil),
		size:      prometheus.NewDesc("proxycache_cache_size", "Current number of live cache entries.", nil, nil),
		clients:   prometheus.NewDesc("proxycache_active_clients", "Currently connected clients.", nil, nil),
		tunnels:   prometheus.NewDesc("proxycache_active_tunnels", "Currently open CONNECT tunnels.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.size
	ch <- c.clients
	ch <- c.tunnels
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(c.cache.HitCount()))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(c.cache.MissCount()))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(c.cache.EvictionCount()))
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(c.cache.Size()))
	if c.activity != nil {
		ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(c.activity.ActiveClients()))
		ch <- prometheus.MustNewConstMetric(c.tunnels, prometheus.GaugeValue, float64(c.activity.ActiveTunnels()))
	}
}
