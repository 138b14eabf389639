package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Adapter is one search backend. Adapters are fail-soft: they log their own
// failures and return whatever they could parse, never an error.
type Adapter struct {
	Name  string
	Query func(ctx context.Context, query string, limit int) []SearchResult
}

// adapters is the priority-ordered backend list, registered from main via
// RegisterAdapters. Earlier adapters win dedup ties.
var adapters []Adapter

// RegisterAdapters sets the backend sweep order.
func RegisterAdapters(a ...Adapter) {
	adapters = a
}

// reformulations are appended to the query when a full sweep comes back
// empty, in order, stopping at the first suffix that yields results.
var reformulations = []string{"official audio", "lyrics", "song", "music video"}

const maxSearchLimit = 50

// Search sweeps all adapters in priority order, dedups by video id (first
// occurrence wins), ranks and truncates. A blank query or a total miss
// returns an empty slice; errors never escape.
func Search(ctx context.Context, query string, limit int) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	metrics.SearchRequests.Add(1)

	results := sweep(ctx, query, limit)
	if len(results) == 0 {
		for _, suffix := range reformulations {
			if ctx.Err() != nil {
				break
			}
			metrics.Reformulations.Add(1)
			reformulated := query + " " + suffix
			slog.Debug("reformulating query",
				slog.String("query", query),
				slog.String("reformulated", reformulated))
			results = sweep(ctx, reformulated, limit)
			if len(results) > 0 {
				break
			}
		}
	}

	rank(results, query)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// sweep runs one pass over the adapters, accumulating deduped results and
// stopping early once limit is reached. Adapters after the first are
// throttled by cfg.AdapterDelay.
func sweep(ctx context.Context, query string, limit int) []SearchResult {
	seen := make(map[string]struct{}, limit)
	results := make([]SearchResult, 0, limit)

	for i, a := range adapters {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && cfg.AdapterDelay > 0 {
			select {
			case <-time.After(cfg.AdapterDelay):
			case <-ctx.Done():
				return results
			}
		}

		actx, cancel := context.WithTimeout(ctx, cfg.AdapterTimeout)
		found := a.Query(actx, query, limit)
		cancel()

		added := 0
		for _, r := range found {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			results = append(results, r)
			added++
		}
		slog.Debug("adapter sweep",
			slog.String("adapter", a.Name),
			slog.String("query", query),
			slog.Int("found", len(found)),
			slog.Int("added", added),
			slog.Int("total", len(results)))

		if len(results) >= limit {
			break
		}
	}
	return results
}

// rank sorts results in place: title containing the query (case-insensitive)
// first, then by view count. The sort is stable so adapter priority breaks
// remaining ties.
func rank(results []SearchResult, query string) {
	q := strings.ToLower(query)
	sort.SliceStable(results, func(i, j int) bool {
		mi := strings.Contains(strings.ToLower(results[i].Title), q)
		mj := strings.Contains(strings.ToLower(results[j].Title), q)
		if mi != mj {
			return mi
		}
		return results[i].ViewCount > results[j].ViewCount
	})
}
