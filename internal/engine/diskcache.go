package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// DiskCache persists metadata entries as JSON files keyed by a hash of the
// logical key, with an optional Redis L2 that survives a wiped cache
// directory. Expired files are removed by a background sweep (Run), unlike
// the in-memory stream cache which only evicts lazily.
type DiskCache struct {
	dir           string
	ttl           time.Duration
	sweepInterval time.Duration
	rdb           *redis.Client // nil if Redis unavailable
}

type diskEntry struct {
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewDiskCache prepares the cache directory and, when redisURL is non-empty
// and reachable, attaches the Redis L2. Redis being down is a degradation,
// not an error.
func NewDiskCache(dir string, ttl, sweepInterval time.Duration, redisURL string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &DiskCache{dir: dir, ttl: ttl, sweepInterval: sweepInterval}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Warn("diskcache: invalid redis URL, L2 disabled", slog.Any("error", err))
		} else {
			rdb := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				slog.Warn("diskcache: redis unreachable, L2 disabled", slog.Any("error", err))
			} else {
				c.rdb = rdb
				slog.Info("diskcache: redis L2 connected", slog.String("addr", opts.Addr))
			}
		}
	}
	return c, nil
}

// hashKey derives the on-disk file stem from the logical key parts.
func (c *DiskCache) hashKey(parts ...string) string {
	h := sha256.Sum256([]byte(CacheKey(parts...)))
	return fmt.Sprintf("%x", h[:16])
}

func (c *DiskCache) path(hash string) string {
	return filepath.Join(c.dir, hash+".json")
}

// Get decodes the cached value for the key parts into out. A hit on the
// Redis L2 repopulates the disk file.
func (c *DiskCache) Get(ctx context.Context, out any, parts ...string) bool {
	hash := c.hashKey(parts...)

	if raw, err := os.ReadFile(c.path(hash)); err == nil {
		var e diskEntry
		if json.Unmarshal(raw, &e) == nil && !c.expired(e.Timestamp) {
			if json.Unmarshal(e.Data, out) == nil {
				return true
			}
		}
		// Expired or corrupt: the sweep will collect it.
	}

	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, "gt:"+hash).Bytes()
		if err == nil {
			var e diskEntry
			if json.Unmarshal(raw, &e) == nil && !c.expired(e.Timestamp) {
				if json.Unmarshal(e.Data, out) == nil {
					if err := os.WriteFile(c.path(hash), raw, 0o644); err != nil {
						slog.Debug("diskcache: L1 repopulate failed", slog.Any("error", err))
					}
					return true
				}
			}
		}
	}
	return false
}

// Set stores value under the key parts in both tiers.
func (c *DiskCache) Set(ctx context.Context, value any, parts ...string) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	raw, err := json.Marshal(diskEntry{Timestamp: time.Now().Unix(), Data: data})
	if err != nil {
		return
	}

	hash := c.hashKey(parts...)
	if err := os.WriteFile(c.path(hash), raw, 0o644); err != nil {
		slog.Debug("diskcache: write failed", slog.Any("error", err))
	}
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, "gt:"+hash, raw, c.ttl).Err(); err != nil {
			slog.Debug("diskcache: L2 set failed", slog.Any("error", err))
		}
	}
}

func (c *DiskCache) expired(unix int64) bool {
	return time.Since(time.Unix(unix, 0)) > c.ttl
}

// Sweep removes expired and unreadable cache files, returning how many went.
func (c *DiskCache) Sweep() int {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var e diskEntry
		if json.Unmarshal(raw, &e) != nil || c.expired(e.Timestamp) {
			if os.Remove(f) == nil {
				removed++
			}
		}
	}
	return removed
}

// Run sweeps on a ticker until ctx is done. Call from a goroutine.
func (c *DiskCache) Run(ctx context.Context) {
	interval := c.sweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("diskcache: swept expired entries", slog.Int("removed", n))
			}
		}
	}
}
