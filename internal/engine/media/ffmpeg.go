package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/melodin/go_tunes/internal/engine"
)

// Loudness target matching streaming-platform practice.
const loudnormFilter = "loudnorm=I=-16:LRA=11:TP=-1.5"

var (
	ffmpegOnce  sync.Once
	ffmpegFound bool
)

// ffmpegAvailable probes PATH once; without ffmpeg normalization is skipped.
func ffmpegAvailable() bool {
	ffmpegOnce.Do(func() {
		_, err := exec.LookPath(engine.Cfg.FfmpegPath)
		ffmpegFound = err == nil
	})
	return ffmpegFound
}

// Normalize rewrites path with loudness-normalized audio, via a temp file
// and rename so the original survives any failure.
func Normalize(ctx context.Context, path string) error {
	if !ffmpegAvailable() {
		return fmt.Errorf("ffmpeg not available")
	}
	tmp := path + ".norm.mp3"
	defer os.Remove(tmp)

	_, err := engine.CaptureCommand(ctx, engine.Cfg.RunCommand, engine.Cfg.FfmpegPath,
		"-y", "-i", path, "-af", loudnormFilter, "-c:a", "libmp3lame", tmp)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace with normalized output: %w", err)
	}
	return nil
}

// AudioProbe is the subset of ffprobe output the analysis endpoint reports.
type AudioProbe struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// AnalyzeAudio inspects a downloaded file with ffprobe.
func AnalyzeAudio(ctx context.Context, path string) (*AudioProbe, error) {
	out, err := engine.CaptureCommand(ctx, engine.Cfg.RunCommand, engine.Cfg.FfprobePath,
		"-v", "quiet", "-print_format", "json",
		"-show_format", "-show_streams", path)
	if err != nil {
		return nil, err
	}
	var probe AudioProbe
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	return &probe, nil
}
