package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/melodin/go_tunes/internal/engine"
)

// Invidious mirror-API adapter. Instances fail often and without notice, so
// the adapter walks the configured list and takes the first parseable
// answer; a failing instance is skipped, not retried.

type invidiousVideo struct {
	Type          string `json:"type"`
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	LengthSeconds int    `json:"lengthSeconds"`
	Author        string `json:"author"`
	ViewCount     int64  `json:"viewCount"`
	Thumbnails    []struct {
		Quality string `json:"quality"`
		URL     string `json:"url"`
	} `json:"videoThumbnails"`
}

// QueryInvidious searches the configured Invidious instances in order.
func QueryInvidious(ctx context.Context, query string, limit int) []engine.SearchResult {
	engine.IncrInvidiousQueries()

	for _, base := range engine.Cfg.InvidiousInstances {
		videos, err := invidiousSearch(ctx, base, query)
		if err != nil {
			slog.Debug("invidious instance failed",
				slog.String("instance", base), slog.Any("err", err))
			continue
		}
		return invidiousResults(videos, limit)
	}
	return nil
}

func invidiousSearch(ctx context.Context, base, query string) ([]invidiousVideo, error) {
	u := base + "/api/v1/search?q=" + url.QueryEscape(query) + "&type=video"
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
		return nil, fmt.Errorf("invidious search status %d", resp.StatusCode)
	}

	var videos []invidiousVideo
	if err := json.NewDecoder(resp.Body).Decode(&videos); err != nil {
		return nil, fmt.Errorf("decode invidious search: %w", err)
	}
	return videos, nil
}

func invidiousResults(videos []invidiousVideo, limit int) []engine.SearchResult {
	results := make([]engine.SearchResult, 0, len(videos))
	for _, v := range videos {
		if v.Type != "" && v.Type != "video" {
			continue
		}
		if !engine.ValidVideoID(v.VideoID) {
			continue
		}
		thumbs := make([]string, 0, len(v.Thumbnails))
		for _, t := range v.Thumbnails {
			thumbs = append(thumbs, t.URL)
		}
		results = append(results, engine.NewSearchResult(
			"invidious", v.VideoID, v.Title, v.LengthSeconds,
			engine.BestThumbnail(thumbs), v.Author, v.ViewCount))
		if len(results) >= limit {
			break
		}
	}
	return results
}
