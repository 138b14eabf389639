package engine

import "errors"

// SearchResult is the canonical record every source adapter normalizes into.
// Built once per adapter call and never mutated after it enters an aggregate
// list; Duration is always derived from DurationSeconds (see NewSearchResult).
type SearchResult struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	Duration        string `json:"duration"`
	Thumbnail       string `json:"thumbnail"`
	Channel         string `json:"channel"`
	Views           string `json:"views"`
	ViewCount       int64  `json:"view_count"`
	Source          string `json:"source"`
	URL             string `json:"url"`
}

// Quality names an audio-bitrate ceiling for stream selection and downloads.
type Quality string

const (
	QualityLow     Quality = "low"
	QualityMedium  Quality = "medium"
	QualityHigh    Quality = "high"
	QualityPremium Quality = "premium"
)

// BitrateCeiling returns the tier's upper bound in kbps.
func (q Quality) BitrateCeiling() int {
	switch q {
	case QualityLow:
		return 64
	case QualityMedium:
		return 128
	case QualityHigh:
		return 192
	case QualityPremium:
		return 320
	}
	return 192
}

// ParseQuality maps a request string to a tier, defaulting to high.
func ParseQuality(s string) Quality {
	switch Quality(s) {
	case QualityLow, QualityMedium, QualityHigh, QualityPremium:
		return Quality(s)
	}
	return QualityHigh
}

// ProgressRecord is the side-channel download progress snapshot, updated on
// each progress line from the extraction subprocess.
type ProgressRecord struct {
	Status          string  `json:"status"`
	DownloadedBytes int64   `json:"downloaded"`
	TotalBytes      int64   `json:"total"`
	Speed           float64 `json:"speed"`
	ETA             int     `json:"eta"`
}

// VideoDetails is the extended metadata behind the info endpoint, persisted
// in the disk cache.
type VideoDetails struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Duration    int      `json:"duration"`
	Thumbnail   string   `json:"thumbnail"`
	Channel     string   `json:"channel"`
	Description string   `json:"description"`
	ViewCount   int64    `json:"view_count"`
	PublishDate string   `json:"publish_date"`
	Keywords    []string `json:"keywords,omitempty"`
}

// ErrNoStream reports that no playable audio-only stream could be resolved
// for a video. Callers map it to a not-found condition, never a retry.
var ErrNoStream = errors.New("no playable audio stream")
