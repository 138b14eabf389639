package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/melodin/go_tunes/internal/engine"
)

// DownloadManager extracts audio to <MusicDir>/<id>_<quality>.mp3. Per-file
// mutual exclusion uses an in-flight registry with a done channel: the first
// caller runs the extraction, duplicates block on the channel and re-check
// the file when woken, so no caller ever polls.

type task struct {
	done chan struct{}
	err  error // set before done is closed
}

var (
	inflightMu sync.Mutex
	inflight   = make(map[string]*task)

	// Keyed per id/quality so parallel qualities of one video never touch
	// each other's record.
	progressMu sync.RWMutex
	progress   = make(map[string]*engine.ProgressRecord)

	semOnce sync.Once
	sem     chan struct{}
)

func acquireExtraction(ctx context.Context) error {
	semOnce.Do(func() {
		sem = make(chan struct{}, engine.Cfg.MaxExtractions)
	})
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func releaseExtraction() { <-sem }

// DownloadPath is the final on-disk name for an id/quality pair.
func DownloadPath(id string, quality engine.Quality) string {
	return filepath.Join(engine.Cfg.MusicDir, fmt.Sprintf("%s_%s.mp3", id, quality))
}

// Download extracts the audio for id at the given quality and returns the
// final file path. Idempotent: an existing file wins without any subprocess
// work, and concurrent calls for the same file share one extraction.
func Download(ctx context.Context, id string, quality engine.Quality) (string, error) {
	if !engine.ValidVideoID(id) {
		return "", fmt.Errorf("invalid video id %q", id)
	}
	final := DownloadPath(id, quality)
	if _, err := os.Stat(final); err == nil {
		return final, nil
	}

	inflightMu.Lock()
	if t, ok := inflight[final]; ok {
		inflightMu.Unlock()
		select {
		case <-t.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if _, err := os.Stat(final); err == nil {
			return final, nil
		}
		if t.err != nil {
			return "", t.err
		}
		return "", fmt.Errorf("download %s: output missing", id)
	}
	t := &task{done: make(chan struct{})}
	inflight[final] = t
	inflightMu.Unlock()

	err := extract(ctx, id, quality, final)
	t.err = err

	inflightMu.Lock()
	delete(inflight, final)
	inflightMu.Unlock()
	progressMu.Lock()
	delete(progress, progressKey(id, quality))
	progressMu.Unlock()
	close(t.done)

	if err != nil {
		engine.IncrDownloadFailures()
		return "", err
	}
	engine.IncrDownloads()
	return final, nil
}

// extract runs the yt-dlp subprocess into a temp name and renames onto the
// final path only on success, so a failed run never leaves a partial file
// under the final name.
func extract(ctx context.Context, id string, quality engine.Quality, final string) error {
	// Re-check after winning the in-flight slot: a previous task may have
	// finished between our stat and our registration.
	if _, err := os.Stat(final); err == nil {
		return nil
	}
	if err := acquireExtraction(ctx); err != nil {
		return err
	}
	defer releaseExtraction()

	if err := os.MkdirAll(engine.Cfg.MusicDir, 0o755); err != nil {
		return fmt.Errorf("music dir: %w", err)
	}

	tmpBase := filepath.Join(engine.Cfg.MusicDir,
		fmt.Sprintf(".%s_%s.%s", id, quality, uuid.NewString()[:8]))
	tmpFile := tmpBase + ".mp3"
	defer os.Remove(tmpFile)

	pkey := progressKey(id, quality)
	setProgress(pkey, &engine.ProgressRecord{Status: "downloading"})

	var stderr strings.Builder
	out := &lineWriter{fn: func(line string) {
		if rec, ok := parseProgressLine(line); ok {
			setProgress(pkey, rec)
		}
	}}
	err := engine.Cfg.RunCommand(ctx, out, &stderr, engine.Cfg.YtdlpPath,
		"-x", "--audio-format", "mp3",
		"--audio-quality", fmt.Sprintf("%dK", quality.BitrateCeiling()),
		"--newline", "--progress", "--no-warnings",
		"-o", tmpBase+".%(ext)s",
		engine.WatchURL(id))
	if err != nil {
		return fmt.Errorf("yt-dlp %s: %w: %s", id, err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(tmpFile); err != nil {
		return fmt.Errorf("yt-dlp %s: no output produced: %s", id, strings.TrimSpace(stderr.String()))
	}

	// Loudness normalization is best-effort: failure keeps the raw file.
	if engine.Cfg.NormalizeAudio {
		if err := Normalize(ctx, tmpFile); err != nil {
			slog.Warn("loudness normalization skipped",
				slog.String("id", id), slog.Any("err", err))
		}
	}

	if err := os.Rename(tmpFile, final); err != nil {
		return fmt.Errorf("finalize %s: %w", id, err)
	}
	slog.Info("download complete",
		slog.String("id", id), slog.String("quality", string(quality)))
	return nil
}

func progressKey(id string, quality engine.Quality) string {
	return engine.CacheKey(id, string(quality))
}

// Progress returns the live progress record for any in-flight download of
// the id, regardless of quality.
func Progress(id string) (engine.ProgressRecord, bool) {
	progressMu.RLock()
	defer progressMu.RUnlock()
	prefix := id + "|"
	for key, rec := range progress {
		if strings.HasPrefix(key, prefix) {
			return *rec, true
		}
	}
	return engine.ProgressRecord{}, false
}

func setProgress(key string, rec *engine.ProgressRecord) {
	progressMu.Lock()
	progress[key] = rec
	progressMu.Unlock()
}

// [download]  45.3% of 3.45MiB at 1.20MiB/s ETA 00:05
var progressLineRE = regexp.MustCompile(
	`\[download\]\s+([\d.]+)% of ~?\s*([\d.]+)(KiB|MiB|GiB|B)(?: at\s+([\d.]+)(KiB|MiB|GiB|B)/s)?(?: ETA (\d+):(\d+))?`)

func parseProgressLine(line string) (*engine.ProgressRecord, bool) {
	m := progressLineRE.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	pct, _ := strconv.ParseFloat(m[1], 64)
	total := sizeBytes(m[2], m[3])
	rec := &engine.ProgressRecord{
		Status:          "downloading",
		TotalBytes:      total,
		DownloadedBytes: int64(pct / 100 * float64(total)),
	}
	if m[4] != "" {
		rec.Speed = float64(sizeBytes(m[4], m[5]))
	}
	if m[6] != "" {
		min, _ := strconv.Atoi(m[6])
		sec, _ := strconv.Atoi(m[7])
		rec.ETA = min*60 + sec
	}
	if pct >= 100 {
		rec.Status = "finished"
	}
	return rec, true
}

func sizeBytes(num, unit string) int64 {
	n, _ := strconv.ParseFloat(num, 64)
	switch unit {
	case "KiB":
		n *= 1024
	case "MiB":
		n *= 1024 * 1024
	case "GiB":
		n *= 1024 * 1024 * 1024
	}
	return int64(n)
}

// lineWriter splits a subprocess stdout stream into lines for fn. Partial
// trailing lines are buffered until the next write.
type lineWriter struct {
	buf strings.Builder
	fn  func(line string)
}

var _ io.Writer = (*lineWriter)(nil)

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		s := w.buf.String()
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		w.fn(strings.TrimRight(s[:i], "\r"))
		w.buf.Reset()
		w.buf.WriteString(s[i+1:])
	}
	return len(p), nil
}
