package engine

import (
	"html"
	"regexp"
	"strings"
)

const watchURLBase = "https://www.youtube.com/watch?v="

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidVideoID reports whether s is a canonical 11-character video handle.
func ValidVideoID(s string) bool {
	return videoIDRe.MatchString(s)
}

// WatchURL builds the canonical watch URL for an id.
func WatchURL(id string) string {
	return watchURLBase + id
}

// DefaultThumbnail is the deterministic templated image URL used when a
// source provides none.
func DefaultThumbnail(id string) string {
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}

// NewSearchResult builds the canonical record from whatever a source adapter
// scraped together. Duration display text is always recomputed from seconds
// here; adapters must not set it themselves.
func NewSearchResult(source, id, title string, durationSeconds int, thumbnail, channel string, viewCount int64) SearchResult {
	title = strings.TrimSpace(html.UnescapeString(title))
	if title == "" {
		title = "Untitled"
	}
	if thumbnail == "" {
		thumbnail = DefaultThumbnail(id)
	}
	channel = strings.TrimSpace(html.UnescapeString(channel))
	if channel == "" {
		channel = "Unknown"
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return SearchResult{
		ID:              id,
		Title:           title,
		DurationSeconds: durationSeconds,
		Duration:        FormatDuration(durationSeconds),
		Thumbnail:       thumbnail,
		Channel:         channel,
		Views:           FormatViews(viewCount),
		ViewCount:       viewCount,
		Source:          source,
		URL:             WatchURL(id),
	}
}

// BestThumbnail picks the highest-quality URL from a source's thumbnail list,
// preferring the named resolutions YouTube CDNs expose.
func BestThumbnail(urls []string) string {
	for _, quality := range []string{"maxresdefault", "sddefault", "hqdefault", "mqdefault"} {
		for _, u := range urls {
			if strings.Contains(u, quality) {
				return u
			}
		}
	}
	if len(urls) > 0 {
		return urls[0]
	}
	return ""
}
