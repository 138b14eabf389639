package media

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/melodin/go_tunes/internal/engine"
)

// Track is one downloaded file in the music library.
type Track struct {
	ID       string    `json:"id"`
	Quality  string    `json:"quality"`
	File     string    `json:"file"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	URL      string    `json:"url"`
}

// ListDownloads scans MusicDir for completed <id>_<quality>.mp3 files,
// newest first. Temp files and foreign names are ignored.
func ListDownloads() ([]Track, error) {
	entries, err := os.ReadDir(engine.Cfg.MusicDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Track{}, nil
		}
		return nil, err
	}

	tracks := make([]Track, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".mp3") {
			continue
		}
		base := strings.TrimSuffix(name, ".mp3")
		i := strings.LastIndexByte(base, '_')
		if i < 0 {
			continue
		}
		id, quality := base[:i], base[i+1:]
		if !engine.ValidVideoID(id) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		tracks = append(tracks, Track{
			ID:       id,
			Quality:  quality,
			File:     filepath.Join(engine.Cfg.MusicDir, name),
			Size:     info.Size(),
			Modified: info.ModTime(),
			URL:      engine.WatchURL(id),
		})
	}
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].Modified.After(tracks[j].Modified)
	})
	return tracks, nil
}
