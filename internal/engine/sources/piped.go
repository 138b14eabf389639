package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/melodin/go_tunes/internal/engine"
)

// Piped mirror-API adapter. Same instance-walk discipline as Invidious;
// Piped identifies videos by a relative "/watch?v=<id>" url.

type pipedSearchResp struct {
	Items []pipedItem `json:"items"`
}

type pipedItem struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Thumbnail    string `json:"thumbnail"`
	UploaderName string `json:"uploaderName"`
	Duration     int    `json:"duration"`
	Views        int64  `json:"views"`
}

// QueryPiped searches the configured Piped instances in order.
func QueryPiped(ctx context.Context, query string, limit int) []engine.SearchResult {
	engine.IncrPipedQueries()

	for _, base := range engine.Cfg.PipedInstances {
		items, err := pipedSearch(ctx, base, query)
		if err != nil {
			slog.Debug("piped instance failed",
				slog.String("instance", base), slog.Any("err", err))
			continue
		}
		return pipedResults(items, limit)
	}
	return nil
}

func pipedSearch(ctx context.Context, base, query string) ([]pipedItem, error) {
	u := base + "/search?q=" + url.QueryEscape(query) + "&filter=videos"
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", engine.UserAgentBot)

	resp, err := engine.Cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("piped search status %d", resp.StatusCode)
	}

	var data pipedSearchResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode piped search: %w", err)
	}
	return data.Items, nil
}

func pipedResults(items []pipedItem, limit int) []engine.SearchResult {
	results := make([]engine.SearchResult, 0, len(items))
	for _, it := range items {
		if it.Type != "" && it.Type != "stream" {
			continue
		}
		id := strings.TrimPrefix(it.URL, "/watch?v=")
		if !engine.ValidVideoID(id) {
			continue
		}
		results = append(results, engine.NewSearchResult(
			"piped", id, it.Title, it.Duration, it.Thumbnail, it.UploaderName, it.Views))
		if len(results) >= limit {
			break
		}
	}
	return results
}
