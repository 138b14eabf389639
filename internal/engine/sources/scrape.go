package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/melodin/go_tunes/internal/engine"
)

// Last-resort HTML-scrape adapter. Fetches the results page with a
// browser-grade TLS client and tries three extraction tiers, each cruder
// than the last: the ytInitialData blob, the ytInitialPlayerResponse blob,
// and finally bare watch?v= ids from the raw HTML.

const (
	ytInitialDataMarker    = "var ytInitialData = "
	ytPlayerResponseMarker = "var ytInitialPlayerResponse = "
	ytSearchFilter         = "EgIQAQ%3D%3D" // videos-only filter param
	maxScrapeBody          = 4 * 1024 * 1024
)

var watchIDRE = regexp.MustCompile(`watch\?v=([a-zA-Z0-9_-]{11})`)

type videoRenderer struct {
	VideoID string `json:"videoId"`
	Title   struct {
		Runs []struct{ Text string } `json:"runs"`
	} `json:"title"`
	OwnerText struct {
		Runs []struct{ Text string } `json:"runs"`
	} `json:"ownerText"`
	LengthText struct {
		SimpleText string `json:"simpleText"`
	} `json:"lengthText"`
	ViewCountText struct {
		SimpleText string `json:"simpleText"`
	} `json:"viewCountText"`
	Thumbnail struct {
		Thumbnails []struct {
			URL string `json:"url"`
		} `json:"thumbnails"`
	} `json:"thumbnail"`
}

// QueryScrape scrapes the results page. Requires a BrowserClient; without
// one the adapter is disabled.
func QueryScrape(ctx context.Context, query string, limit int) []engine.SearchResult {
	if engine.Cfg.BrowserClient == nil {
		return nil
	}
	engine.IncrScrapeQueries()

	searchURL := "https://www.youtube.com/results?search_query=" +
		url.QueryEscape(query) + "&sp=" + ytSearchFilter

	body, err := fetchResultsPage(ctx, engine.Cfg.BrowserClient.Get, searchURL)
	if err != nil {
		slog.Debug("scrape fetch failed", slog.String("query", query), slog.Any("err", err))
		return nil
	}
	if len(body) > maxScrapeBody {
		body = body[:maxScrapeBody]
	}

	if results := scrapeBlob(body, ytInitialDataMarker, limit); len(results) > 0 {
		return results
	}
	if results := scrapeBlob(body, ytPlayerResponseMarker, limit); len(results) > 0 {
		return results
	}
	return scrapeBareIDs(body, limit)
}

// fetchResultsPage GETs the results page with browser headers, retrying
// transient statuses and connection failures. There is a single page to
// fetch, so unlike the mirror adapters this path retries instead of moving
// on.
func fetchResultsPage(ctx context.Context, get func(url string, headers map[string]string) ([]byte, int, error), searchURL string) ([]byte, error) {
	return engine.RetryDo(ctx, engine.DefaultRetryConfig, func() ([]byte, error) {
		body, status, err := get(searchURL, engine.ChromeHeaders())
		if err != nil {
			return nil, err
		}
		if engine.IsRetryableStatus(status) {
			return nil, engine.StatusError(status)
		}
		if status != 200 {
			return nil, fmt.Errorf("status %d", status)
		}
		return body, nil
	})
}

// scrapeBlob locates the marker, extracts the JSON object after it and
// walks it for videoRenderer entries.
func scrapeBlob(body []byte, marker string, limit int) []engine.SearchResult {
	idx := strings.Index(string(body), marker)
	if idx < 0 {
		return nil
	}
	blob := extractJSON(body[idx+len(marker):])
	if blob == nil {
		return nil
	}
	return walkRenderers(blob, limit)
}

// extractJSON extracts a complete JSON object starting at b[0] == '{' by
// tracking brace depth.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	var prev byte
	for i, c := range b {
		if inStr {
			if c == '"' && prev != '\\' {
				inStr = false
			}
		} else {
			switch c {
			case '"':
				inStr = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return b[:i+1]
				}
			}
		}
		prev = c
	}
	return nil
}

// walkRenderers recursively walks the blob for videoRenderer entries.
func walkRenderers(data []byte, limit int) []engine.SearchResult {
	var results []engine.SearchResult
	seen := make(map[string]struct{})
	var walk func(v json.RawMessage)
	walk = func(v json.RawMessage) {
		if len(results) >= limit {
			return
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err == nil {
			if raw, ok := obj["videoRenderer"]; ok {
				var vr videoRenderer
				if err := json.Unmarshal(raw, &vr); err == nil && engine.ValidVideoID(vr.VideoID) {
					if _, dup := seen[vr.VideoID]; !dup {
						seen[vr.VideoID] = struct{}{}
						results = append(results, rendererResult(vr))
					}
					return
				}
			}
			for _, child := range obj {
				if len(results) >= limit {
					return
				}
				walk(child)
			}
			return
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(v, &arr); err == nil {
			for _, item := range arr {
				if len(results) >= limit {
					return
				}
				walk(item)
			}
		}
	}
	walk(data)
	return results
}

func rendererResult(vr videoRenderer) engine.SearchResult {
	title := ""
	if len(vr.Title.Runs) > 0 {
		title = vr.Title.Runs[0].Text
	}
	channel := ""
	if len(vr.OwnerText.Runs) > 0 {
		channel = vr.OwnerText.Runs[0].Text
	}
	thumbs := make([]string, 0, len(vr.Thumbnail.Thumbnails))
	for _, t := range vr.Thumbnail.Thumbnails {
		thumbs = append(thumbs, t.URL)
	}
	return engine.NewSearchResult(
		"scrape", vr.VideoID, title,
		engine.ParseDuration(vr.LengthText.SimpleText),
		engine.BestThumbnail(thumbs), channel,
		engine.ParseViews(vr.ViewCountText.SimpleText))
}

// scrapeBareIDs is the crudest tier: unique watch?v= ids from the raw HTML,
// titles synthesized, durations and views unknown.
func scrapeBareIDs(body []byte, limit int) []engine.SearchResult {
	matches := watchIDRE.FindAllSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var results []engine.SearchResult
	for _, m := range matches {
		id := string(m[1])
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		results = append(results, engine.NewSearchResult(
			"scrape", id, "YouTube Video "+id, 0, "", "", 0))
		if len(results) >= limit {
			break
		}
	}
	return results
}
