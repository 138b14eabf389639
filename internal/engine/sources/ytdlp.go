package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/melodin/go_tunes/internal/engine"
)

// yt-dlp metadata-extractor adapter. Runs the extractor in flat-playlist
// mode so no media is touched, only the search metadata.

type ytdlpSearchResp struct {
	Entries []ytdlpEntry `json:"entries"`
}

type ytdlpEntry struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Duration   float64     `json:"duration"`
	Uploader   string      `json:"uploader"`
	Channel    string      `json:"channel"`
	ViewCount  json.Number `json:"view_count"`
	Thumbnail  string      `json:"thumbnail"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

// QueryYtdlp searches through the yt-dlp extractor subprocess. Fail-soft:
// any subprocess or parse failure is logged and yields zero results.
func QueryYtdlp(ctx context.Context, query string, limit int) []engine.SearchResult {
	engine.IncrYtdlpQueries()

	out, err := engine.CaptureCommand(ctx, engine.Cfg.RunCommand, engine.Cfg.YtdlpPath,
		"-J", "--flat-playlist", "--no-warnings",
		fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		slog.Debug("ytdlp search failed", slog.String("query", query), slog.Any("err", err))
		return nil
	}

	var resp ytdlpSearchResp
	if err := json.Unmarshal(out, &resp); err != nil {
		slog.Debug("ytdlp decode failed", slog.String("query", query), slog.Any("err", err))
		return nil
	}

	results := make([]engine.SearchResult, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		if !engine.ValidVideoID(e.ID) {
			continue
		}
		channel := e.Channel
		if channel == "" {
			channel = e.Uploader
		}
		thumb := e.Thumbnail
		if thumb == "" && len(e.Thumbnails) > 0 {
			thumb = e.Thumbnails[len(e.Thumbnails)-1].URL
		}
		views, _ := e.ViewCount.Int64()
		results = append(results, engine.NewSearchResult(
			"ytdlp", e.ID, e.Title, int(e.Duration), thumb, channel, views))
		if len(results) >= limit {
			break
		}
	}
	return results
}
