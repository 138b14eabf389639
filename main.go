// go_tunes — multi-source music search and streaming server.
//
// Aggregates video search across a metadata extractor, mirror APIs and an
// HTML-scrape fallback, resolves direct audio stream URLs by quality tier,
// and manages an on-disk MP3 library with loudness normalization.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/melodin/go_tunes/internal/engine"
	"github.com/melodin/go_tunes/internal/engine/media"
	"github.com/melodin/go_tunes/internal/engine/sources"
	"github.com/melodin/go_tunes/internal/server"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(envStr("LOG_LEVEL", "info")),
	})))

	initEngine()

	port := envStr("PORT", "8890")
	slog.Info("starting go_tunes",
		slog.String("version", version),
		slog.String("port", port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if engine.Cfg.MetaCache != nil {
		go engine.Cfg.MetaCache.Run(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      server.NewMux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second, // streaming proxies run long
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func initEngine() {
	c := engine.Config{
		InvidiousInstances: envList("INVIDIOUS_INSTANCES",
			"https://inv.nadeko.net,https://invidious.nerdvpn.de"),
		PipedInstances: envList("PIPED_INSTANCES",
			"https://pipedapi.kavin.rocks,https://pipedapi.adminforge.de"),
		AdapterTimeout: envDuration("ADAPTER_TIMEOUT", 10*time.Second),
		AdapterDelay:   envDuration("ADAPTER_DELAY", 150*time.Millisecond),
		YtdlpPath:      envStr("YTDLP_PATH", "yt-dlp"),
		FfmpegPath:     envStr("FFMPEG_PATH", "ffmpeg"),
		FfprobePath:    envStr("FFPROBE_PATH", "ffprobe"),
		NormalizeAudio: envStr("NORMALIZE_AUDIO", "true") == "true",
		MusicDir:       envStr("MUSIC_DIR", "music"),
		CacheDir:       envStr("CACHE_DIR", "cache"),
		MaxExtractions: envInt("MAX_EXTRACTIONS", 4),
		Formats:        media.NewYouTubeSource(),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}

	bc, err := engine.NewBrowserClient(15)
	if err != nil {
		slog.Warn("browser client init failed, scrape adapter disabled", slog.Any("error", err))
	} else {
		c.BrowserClient = bc
	}

	mc, err := engine.NewDiskCache(c.CacheDir,
		envDuration("META_CACHE_TTL", time.Hour),
		envDuration("META_CACHE_SWEEP", 10*time.Minute),
		envStr("REDIS_URL", ""))
	if err != nil {
		slog.Warn("disk cache init failed, running without metadata cache", slog.Any("error", err))
	} else {
		c.MetaCache = mc
	}

	engine.Init(c)
	engine.RegisterAdapters(sources.All()...)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key, def string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
