package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/melodin/go_tunes/internal/engine"
	"github.com/melodin/go_tunes/internal/engine/media"
)

// Thin JSON route layer. Handlers validate input, call into the engine and
// shape the response; no media or search logic lives here.

// NewMux builds the route table.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/search", handleSearch)
	mux.HandleFunc("GET /api/stream/{id}", handleStream)
	mux.HandleFunc("HEAD /api/stream/{id}", handleStream)
	mux.HandleFunc("GET /api/info/{id}", handleInfo)
	mux.HandleFunc("GET /api/download/{id}", handleDownload)
	mux.HandleFunc("GET /api/progress/{id}", handleProgress)
	mux.HandleFunc("GET /api/analyze/{id}", handleAnalyze)
	mux.HandleFunc("GET /api/playlist", handlePlaylist)
	mux.HandleFunc("GET /api/stats", handleStats)
	mux.HandleFunc("GET /health", handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", slog.Any("err", err))
	}
}

func handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	results := engine.Search(r.Context(), query, limit)
	if len(results) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"query":   query,
			"results": []engine.SearchResult{},
			"count":   0,
			"message": "no results found",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

var streamPassthroughHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Cache-Control",
	"ETag",
	"Last-Modified",
	"Expires",
}

func handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !engine.ValidVideoID(id) {
		http.Error(w, "invalid video id", http.StatusBadRequest)
		return
	}
	quality := engine.ParseQuality(r.URL.Query().Get("quality"))

	mediaURL, err := media.Resolve(r.Context(), id, quality)
	if err != nil {
		if errors.Is(err, engine.ErrNoStream) {
			http.Error(w, "stream not available", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp, err := fetchUpstream(r, mediaURL)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, key := range streamPassthroughHeaders {
		if values, ok := resp.Header[key]; ok {
			w.Header()[key] = values
		}
	}
	if w.Header().Get("Accept-Ranges") == "" {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, resp.Body)
}

// fetchUpstream GETs the resolved media URL with Range passthrough, retrying
// transient upstream failures with exponential backoff.
func fetchUpstream(r *http.Request, mediaURL string) (*http.Response, error) {
	operation := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(r.Context(), r.Method, mediaURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", engine.UserAgentAndroid)
		if rng := r.Header.Get("Range"); rng != "" {
			req.Header.Set("Range", rng)
		}
		if ifRange := r.Header.Get("If-Range"); ifRange != "" {
			req.Header.Set("If-Range", ifRange)
		}

		resp, err := engine.Cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		if engine.IsRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			return nil, backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	return backoff.Retry(r.Context(), operation,
		backoff.WithBackOff(bo), backoff.WithMaxTries(3))
}

func handleInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !engine.ValidVideoID(id) {
		http.Error(w, "invalid video id", http.StatusBadRequest)
		return
	}
	details, err := media.VideoInfo(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "video not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"info":    details,
	})
}

func handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !engine.ValidVideoID(id) {
		http.Error(w, "invalid video id", http.StatusBadRequest)
		return
	}
	quality := engine.ParseQuality(r.URL.Query().Get("quality"))

	path, err := media.Download(r.Context(), id, quality)
	if err != nil {
		slog.Warn("download failed", slog.String("id", id), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "download failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"path":    path,
	})
}

func handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := media.Progress(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAnalyze runs ffprobe against an already-downloaded file and returns
// its codec, duration and bitrate details.
func handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !engine.ValidVideoID(id) {
		http.Error(w, "invalid video id", http.StatusBadRequest)
		return
	}
	quality := engine.ParseQuality(r.URL.Query().Get("quality"))

	path := media.DownloadPath(id, quality)
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "not downloaded",
		})
		return
	}
	probe, err := media.AnalyzeAudio(r.Context(), path)
	if err != nil {
		slog.Warn("analysis failed", slog.String("id", id), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "analysis failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"analysis": probe,
	})
}

func handlePlaylist(w http.ResponseWriter, r *http.Request) {
	tracks, err := media.ListDownloads()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "playlist scan failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tracks":  tracks,
		"count":   len(tracks),
	})
}

func handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, engine.FormatMetrics())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
