package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/melodin/go_tunes/internal/engine"
)

func initDownloadTest(t *testing.T, run engine.RunCommand) {
	t.Helper()
	engine.Init(engine.Config{
		MusicDir:       t.TempDir(),
		RunCommand:     run,
		MaxExtractions: 2,
	})
}

// extractRunner mimics a successful yt-dlp run: emits progress and creates
// the file named by the -o template.
func extractRunner(calls *atomic.Int32, delay time.Duration, fail bool) engine.RunCommand {
	return func(_ context.Context, stdout, stderr io.Writer, _ string, args ...string) error {
		if calls != nil {
			calls.Add(1)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		io.WriteString(stdout, "[download]  45.3% of 3.45MiB at 1.20MiB/s ETA 00:05\n")
		if fail {
			io.WriteString(stderr, "ERROR: video unavailable")
			return errors.New("exit status 1")
		}
		io.WriteString(stdout, "[download] 100.0% of 3.45MiB at 1.20MiB/s ETA 00:00\n")
		var tmpl string
		for i, a := range args {
			if a == "-o" && i+1 < len(args) {
				tmpl = args[i+1]
			}
		}
		return os.WriteFile(strings.Replace(tmpl, "%(ext)s", "mp3", 1), []byte("mp3data"), 0o644)
	}
}

func TestDownloadSuccess(t *testing.T) {
	var calls atomic.Int32
	initDownloadTest(t, extractRunner(&calls, 0, false))

	path, err := Download(context.Background(), "dQw4w9WgXcQ", engine.QualityHigh)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := filepath.Join(engine.Cfg.MusicDir, "dQw4w9WgXcQ_high.mp3")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("final file missing: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("runner called %d times", calls.Load())
	}
	// Progress record is deleted once the task leaves in-flight.
	if _, ok := Progress("dQw4w9WgXcQ"); ok {
		t.Error("progress record survived completion")
	}
}

func TestDownloadIdempotent(t *testing.T) {
	var calls atomic.Int32
	initDownloadTest(t, extractRunner(&calls, 0, false))

	final := DownloadPath("dQw4w9WgXcQ", engine.QualityHigh)
	if err := os.WriteFile(final, []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := Download(context.Background(), "dQw4w9WgXcQ", engine.QualityHigh)
	if err != nil {
		t.Fatal(err)
	}
	if path != final {
		t.Errorf("path = %q", path)
	}
	if calls.Load() != 0 {
		t.Errorf("runner called %d times for an existing file", calls.Load())
	}
}

func TestDownloadConcurrentSharesOneExtraction(t *testing.T) {
	var calls atomic.Int32
	initDownloadTest(t, extractRunner(&calls, 50*time.Millisecond, false))

	const waiters = 5
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	paths := make([]string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = Download(context.Background(), "dQw4w9WgXcQ", engine.QualityHigh)
		}(i)
	}
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("waiter %d got %q", i, paths[i])
		}
	}
	if calls.Load() != 1 {
		t.Errorf("runner called %d times for concurrent downloads of one file", calls.Load())
	}
}

func TestDownloadFailureLeavesNoFinalFile(t *testing.T) {
	initDownloadTest(t, extractRunner(nil, 0, true))

	_, err := Download(context.Background(), "dQw4w9WgXcQ", engine.QualityHigh)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "video unavailable") {
		t.Errorf("error %q does not carry stderr text", err)
	}
	if _, statErr := os.Stat(DownloadPath("dQw4w9WgXcQ", engine.QualityHigh)); statErr == nil {
		t.Error("failed download left a final-named file")
	}
}

func TestDownloadNormalizeFailureKeepsFile(t *testing.T) {
	engine.Init(engine.Config{
		MusicDir:       t.TempDir(),
		NormalizeAudio: true,
		MaxExtractions: 2,
		RunCommand: func(_ context.Context, _, stderr io.Writer, name string, args ...string) error {
			if name == engine.Cfg.FfmpegPath {
				io.WriteString(stderr, "loudnorm filter crashed")
				return errors.New("exit status 1")
			}
			var tmpl string
			for i, a := range args {
				if a == "-o" && i+1 < len(args) {
					tmpl = args[i+1]
				}
			}
			return os.WriteFile(strings.Replace(tmpl, "%(ext)s", "mp3", 1), []byte("raw audio"), 0o644)
		},
	})

	path, err := Download(context.Background(), "dQw4w9WgXcQ", engine.QualityHigh)
	if err != nil {
		t.Fatalf("normalization failure must not fail the download: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if string(data) != "raw audio" {
		t.Errorf("file content = %q, want the unnormalized audio", data)
	}
}

func TestProgressIsolatedAcrossQualities(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	initDownloadTest(t, func(_ context.Context, stdout, _ io.Writer, _ string, args ...string) error {
		io.WriteString(stdout, "[download]  45.3% of 3.45MiB at 1.20MiB/s ETA 00:05\n")
		if strings.Contains(strings.Join(args, " "), "320K") {
			started <- struct{}{}
			<-release
		}
		var tmpl string
		for i, a := range args {
			if a == "-o" && i+1 < len(args) {
				tmpl = args[i+1]
			}
		}
		return os.WriteFile(strings.Replace(tmpl, "%(ext)s", "mp3", 1), []byte("mp3data"), 0o644)
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := Download(context.Background(), "dQw4w9WgXcQ", engine.QualityPremium)
		errCh <- err
	}()
	<-started

	if _, err := Download(context.Background(), "dQw4w9WgXcQ", engine.QualityHigh); err != nil {
		t.Fatal(err)
	}
	// The finished high-quality task must not tear down the premium record
	// still in flight.
	rec, ok := Progress("dQw4w9WgXcQ")
	if !ok {
		t.Fatal("in-flight progress record deleted by another quality's completion")
	}
	if rec.Status != "downloading" {
		t.Errorf("Status = %q, want downloading", rec.Status)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if _, ok := Progress("dQw4w9WgXcQ"); ok {
		t.Error("progress record survived completion")
	}
}

func TestDownloadInvalidID(t *testing.T) {
	initDownloadTest(t, extractRunner(nil, 0, false))
	if _, err := Download(context.Background(), "../etc/pass", engine.QualityHigh); err == nil {
		t.Fatal("expected error for invalid id")
	}
}

func TestDownloadQualitySelectsBitrate(t *testing.T) {
	var gotArgs []string
	initDownloadTest(t, func(_ context.Context, stdout, _ io.Writer, _ string, args ...string) error {
		gotArgs = args
		var tmpl string
		for i, a := range args {
			if a == "-o" && i+1 < len(args) {
				tmpl = args[i+1]
			}
		}
		return os.WriteFile(strings.Replace(tmpl, "%(ext)s", "mp3", 1), nil, 0o644)
	})

	if _, err := Download(context.Background(), "dQw4w9WgXcQ", engine.QualityPremium); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "--audio-quality 320K") {
		t.Errorf("args = %q, want 320K audio quality", joined)
	}
	if !strings.Contains(joined, "https://www.youtube.com/watch?v=dQw4w9WgXcQ") {
		t.Errorf("args = %q, missing watch URL", joined)
	}
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantOK   bool
		status   string
		total    int64
		eta      int
	}{
		{"mid download", "[download]  45.3% of 3.45MiB at 1.20MiB/s ETA 00:05", true, "downloading", 3617587, 5},
		{"estimated size", "[download]  10.0% of ~ 10.00MiB at 512.00KiB/s ETA 01:30", true, "downloading", 10485760, 90},
		{"finished", "[download] 100.0% of 3.45MiB at 1.20MiB/s ETA 00:00", true, "finished", 3617587, 0},
		{"no speed", "[download]  45.3% of 3.45MiB", true, "downloading", 3617587, 0},
		{"unrelated line", "[ExtractAudio] Destination: x.mp3", false, "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := parseProgressLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if rec.Status != tt.status {
				t.Errorf("Status = %q, want %q", rec.Status, tt.status)
			}
			if rec.TotalBytes != tt.total {
				t.Errorf("TotalBytes = %d, want %d", rec.TotalBytes, tt.total)
			}
			if rec.ETA != tt.eta {
				t.Errorf("ETA = %d, want %d", rec.ETA, tt.eta)
			}
		})
	}
}

func TestLineWriterSplitsChunks(t *testing.T) {
	var lines []string
	w := &lineWriter{fn: func(s string) { lines = append(lines, s) }}

	io.WriteString(w, "first li")
	io.WriteString(w, "ne\r\nsecond line\npartial")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %v", len(lines), lines)
	}
	if lines[0] != "first line" || lines[1] != "second line" {
		t.Errorf("lines = %v", lines)
	}
	io.WriteString(w, " end\n")
	if len(lines) != 3 || lines[2] != "partial end" {
		t.Errorf("lines = %v", lines)
	}
}
