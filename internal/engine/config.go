package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// RunCommand abstracts subprocess execution (yt-dlp, ffmpeg, ffprobe) so the
// media pipeline can be exercised in tests without spawning processes.
// Implementations stream stdout/stderr to the given writers and return the
// subprocess error, if any.
type RunCommand func(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error

// ExecCommand is the production RunCommand backed by os/exec.
func ExecCommand(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// CaptureCommand runs fn once and returns stdout bytes, wrapping failures
// with the captured stderr text.
func CaptureCommand(ctx context.Context, run RunCommand, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	if err := run(ctx, &stdout, &stderr, name, args...); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// AudioFormat is one audio-only stream encoding of a video. URL may be
// empty until StreamURL resolves it for the chosen format.
type AudioFormat struct {
	Itag     int
	Bitrate  int // bits per second
	MimeType string
	URL      string
}

// FormatSource resolves a video id to its audio stream encodings and
// extended metadata. The default implementation lives in the media package;
// tests inject fakes.
type FormatSource interface {
	AudioFormats(ctx context.Context, id string) ([]AudioFormat, error)
	StreamURL(ctx context.Context, id string, f AudioFormat) (string, error)
	Details(ctx context.Context, id string) (*VideoDetails, error)
}

// Config holds all engine configuration, injected from main.
type Config struct {
	HTTPClient    *http.Client
	BrowserClient *BrowserClient // nil = scrape adapter disabled

	InvidiousInstances []string
	PipedInstances     []string

	AdapterTimeout time.Duration // hard bound per adapter call
	AdapterDelay   time.Duration // throttle between adapters in one sweep

	YtdlpPath      string
	FfmpegPath     string
	FfprobePath    string
	NormalizeAudio bool // run loudness normalization after downloads
	MusicDir       string
	CacheDir       string
	MaxExtractions int // bound on concurrent extraction subprocesses

	RunCommand RunCommand
	Formats    FormatSource

	StreamCache *MemCache[string] // (id|quality) → media URL, 30m TTL
	MetaCache   *DiskCache        // video metadata, 1h TTL, swept
}

var cfg Config

// Cfg exposes the engine configuration for sub-packages (sources, media).
// Always points to the current cfg value.
var Cfg = &cfg

// Init initializes the engine with the given configuration, filling the
// defaults main does not care about.
func Init(c Config) {
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = 10 * time.Second
	}
	if c.AdapterDelay <= 0 {
		c.AdapterDelay = 150 * time.Millisecond
	}
	if c.YtdlpPath == "" {
		c.YtdlpPath = "yt-dlp"
	}
	if c.FfmpegPath == "" {
		c.FfmpegPath = "ffmpeg"
	}
	if c.FfprobePath == "" {
		c.FfprobePath = "ffprobe"
	}
	if c.MaxExtractions <= 0 {
		c.MaxExtractions = 4
	}
	if c.RunCommand == nil {
		c.RunCommand = ExecCommand
	}
	if c.StreamCache == nil {
		c.StreamCache = NewMemCache[string](30 * time.Minute)
	}
	cfg = c
	Cfg = &cfg
}
