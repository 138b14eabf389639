package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kkdai/youtube/v2"

	"github.com/melodin/go_tunes/internal/engine"
)

// StreamResolver turns a video id and quality tier into a direct media URL.
// Resolutions are cached for 30 minutes (the URLs expire server-side after
// roughly six hours); a cache hit never touches the network.

// Resolve returns a playable audio URL for id at the given quality tier.
// Selection: highest-bitrate audio-only format under the tier ceiling, or
// the globally best audio-only format when nothing fits under it. Returns
// engine.ErrNoStream when the video has no audio-only stream at all.
func Resolve(ctx context.Context, id string, quality engine.Quality) (string, error) {
	cacheKey := engine.CacheKey(id, string(quality))
	if url, ok := engine.Cfg.StreamCache.Get(cacheKey); ok {
		return url, nil
	}

	engine.IncrStreamResolutions()

	formats, err := engine.Cfg.Formats.AudioFormats(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", engine.ErrNoStream, id, err)
	}
	best, ok := pickAudioFormat(formats, quality.BitrateCeiling())
	if !ok {
		return "", fmt.Errorf("%w: %s", engine.ErrNoStream, id)
	}

	url := best.URL
	if url == "" {
		url, err = engine.Cfg.Formats.StreamURL(ctx, id, best)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", engine.ErrNoStream, id, err)
		}
	}

	engine.Cfg.StreamCache.Set(cacheKey, url)
	slog.Debug("stream resolved",
		slog.String("id", id),
		slog.String("quality", string(quality)),
		slog.Int("bitrate_kbps", best.Bitrate/1000))
	return url, nil
}

// pickAudioFormat selects the highest bitrate not above ceilingKbps, falling
// back to the overall best when every format exceeds the ceiling.
func pickAudioFormat(formats []engine.AudioFormat, ceilingKbps int) (engine.AudioFormat, bool) {
	ceiling := ceilingKbps * 1000
	var under, best engine.AudioFormat
	haveUnder, haveBest := false, false
	for _, f := range formats {
		if f.Bitrate <= 0 {
			continue
		}
		if !haveBest || f.Bitrate > best.Bitrate {
			best, haveBest = f, true
		}
		if f.Bitrate <= ceiling && (!haveUnder || f.Bitrate > under.Bitrate) {
			under, haveUnder = f, true
		}
	}
	if haveUnder {
		return under, true
	}
	return best, haveBest
}

// VideoInfo returns extended metadata for a video, served through the disk
// cache (1h TTL).
func VideoInfo(ctx context.Context, id string) (*engine.VideoDetails, error) {
	var details engine.VideoDetails
	if engine.Cfg.MetaCache != nil && engine.Cfg.MetaCache.Get(ctx, &details, "info", id) {
		return &details, nil
	}
	d, err := engine.Cfg.Formats.Details(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("video info %s: %w", id, err)
	}
	if engine.Cfg.MetaCache != nil {
		engine.Cfg.MetaCache.Set(ctx, d, "info", id)
	}
	return d, nil
}

// YouTubeSource is the production FormatSource backed by kkdai/youtube.
// The fetched video is memoized per id so AudioFormats followed by
// StreamURL costs one innertube round trip.
type YouTubeSource struct {
	client youtube.Client

	mu   sync.Mutex
	last *youtube.Video
}

func NewYouTubeSource() *YouTubeSource {
	return &YouTubeSource{}
}

func (s *YouTubeSource) video(ctx context.Context, id string) (*youtube.Video, error) {
	s.mu.Lock()
	if s.last != nil && s.last.ID == id {
		v := s.last
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := s.client.GetVideoContext(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = v
	s.mu.Unlock()
	return v, nil
}

func (s *YouTubeSource) AudioFormats(ctx context.Context, id string) ([]engine.AudioFormat, error) {
	v, err := s.video(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []engine.AudioFormat
	for _, f := range v.Formats {
		if f.AudioChannels == 0 || f.Width != 0 || f.Height != 0 {
			continue
		}
		out = append(out, engine.AudioFormat{
			Itag:     f.ItagNo,
			Bitrate:  f.Bitrate,
			MimeType: f.MimeType,
		})
	}
	return out, nil
}

func (s *YouTubeSource) StreamURL(ctx context.Context, id string, af engine.AudioFormat) (string, error) {
	v, err := s.video(ctx, id)
	if err != nil {
		return "", err
	}
	for i := range v.Formats {
		if v.Formats[i].ItagNo == af.Itag {
			return s.client.GetStreamURLContext(ctx, v, &v.Formats[i])
		}
	}
	return "", fmt.Errorf("itag %d not in format list", af.Itag)
}

func (s *YouTubeSource) Details(ctx context.Context, id string) (*engine.VideoDetails, error) {
	v, err := s.video(ctx, id)
	if err != nil {
		return nil, err
	}
	thumbs := make([]string, 0, len(v.Thumbnails))
	for _, t := range v.Thumbnails {
		thumbs = append(thumbs, t.URL)
	}
	thumb := engine.BestThumbnail(thumbs)
	if thumb == "" {
		thumb = engine.DefaultThumbnail(id)
	}
	publish := ""
	if !v.PublishDate.IsZero() {
		publish = v.PublishDate.Format("2006-01-02")
	}
	return &engine.VideoDetails{
		ID:          v.ID,
		Title:       v.Title,
		Duration:    int(v.Duration.Seconds()),
		Thumbnail:   thumb,
		Channel:     v.Author,
		Description: v.Description,
		ViewCount:   int64(v.Views),
		PublishDate: publish,
		Keywords:    v.Keywords,
	}, nil
}
