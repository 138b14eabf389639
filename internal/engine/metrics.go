package engine

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	SearchRequests    atomic.Int64
	Reformulations    atomic.Int64
	YtdlpQueries      atomic.Int64
	InvidiousQueries  atomic.Int64
	PipedQueries      atomic.Int64
	ScrapeQueries     atomic.Int64
	StreamResolutions atomic.Int64
	Downloads         atomic.Int64
	DownloadFailures  atomic.Int64
}

// Incrementors for the sources/ and media/ sub-packages; search-side
// counters are bumped directly by the aggregator in this package.
func IncrYtdlpQueries()      { metrics.YtdlpQueries.Add(1) }
func IncrInvidiousQueries()  { metrics.InvidiousQueries.Add(1) }
func IncrPipedQueries()      { metrics.PipedQueries.Add(1) }
func IncrScrapeQueries()     { metrics.ScrapeQueries.Add(1) }
func IncrStreamResolutions() { metrics.StreamResolutions.Add(1) }
func IncrDownloads()         { metrics.Downloads.Add(1) }
func IncrDownloadFailures()  { metrics.DownloadFailures.Add(1) }

// GetMetrics returns a snapshot of all counters plus stream-cache stats.
func GetMetrics() map[string]int64 {
	m := map[string]int64{
		"search_requests":    metrics.SearchRequests.Load(),
		"reformulations":     metrics.Reformulations.Load(),
		"ytdlp_queries":      metrics.YtdlpQueries.Load(),
		"invidious_queries":  metrics.InvidiousQueries.Load(),
		"piped_queries":      metrics.PipedQueries.Load(),
		"scrape_queries":     metrics.ScrapeQueries.Load(),
		"stream_resolutions": metrics.StreamResolutions.Load(),
		"downloads":          metrics.Downloads.Load(),
		"download_failures":  metrics.DownloadFailures.Load(),
	}
	if Cfg.StreamCache != nil {
		hits, misses := Cfg.StreamCache.Stats()
		m["stream_cache_hits"] = hits
		m["stream_cache_misses"] = misses
	}
	return m
}

// FormatMetrics renders counters as a simple text format for the stats
// endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	keys := []string{
		"search_requests", "reformulations",
		"ytdlp_queries", "invidious_queries", "piped_queries", "scrape_queries",
		"stream_resolutions", "downloads", "download_failures",
		"stream_cache_hits", "stream_cache_misses",
	}
	var sb strings.Builder
	for _, k := range keys {
		if v, ok := m[k]; ok {
			fmt.Fprintf(&sb, "%s %d\n", k, v)
		}
	}
	return sb.String()
}
