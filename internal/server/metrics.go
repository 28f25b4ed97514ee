package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxelbase/filecache"
)

// cacheCollector exports Manager.Stats as Prometheus metrics. Values are
// read on scrape; nothing is ticking between scrapes.
type cacheCollector struct {
	cache *filecache.Manager

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	downloads *prometheus.Desc
	evictions *prometheus.Desc
	sizeBytes *prometheus.Desc
	entries   *prometheus.Desc
}

func newCacheCollector(cache *filecache.Manager) *cacheCollector {
	return &cacheCollector{
		cache: cache,
		hits: prometheus.NewDesc("filecache_hits_total",
			"Requests served from the cache.", nil, nil),
		misses: prometheus.NewDesc("filecache_misses_total",
			"Requests that required a download.", nil, nil),
		downloads: prometheus.NewDesc("filecache_downloads_total",
			"Downloads completed and committed.", nil, nil),
		evictions: prometheus.NewDesc("filecache_evictions_total",
			"Entries removed by eviction or expiry.", nil, nil),
		sizeBytes: prometheus.NewDesc("filecache_size_bytes",
			"Bytes currently stored.", nil, nil),
		entries: prometheus.NewDesc("filecache_entries",
			"Entries currently stored.", nil, nil),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.downloads
	ch <- c.evictions
	ch <- c.sizeBytes
	ch <- c.entries
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(c.downloads, prometheus.CounterValue, float64(st.Downloads))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(st.Evictions))
	ch <- prometheus.MustNewConstMetric(c.sizeBytes, prometheus.GaugeValue, float64(st.CurrentSizeBytes))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.EntryCount))
}
