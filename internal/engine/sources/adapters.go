package sources

import "github.com/melodin/go_tunes/internal/engine"

// All returns the adapters in sweep priority order: the extractor first
// (richest metadata), mirror APIs next, raw scraping last.
func All() []engine.Adapter {
	return []engine.Adapter{
		{Name: "ytdlp", Query: QueryYtdlp},
		{Name: "invidious", Query: QueryInvidious},
		{Name: "piped", Query: QueryPiped},
		{Name: "scrape", Query: QueryScrape},
	}
}
