package runs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const cacheTTL = 10 * time.Minute

// RunCache keeps advisory copies of runs in Redis when available, falling
// back to a process-local map otherwise. Reads treat it as a fast path only:
// terminal runs are immutable and may be served from cache, while anything
// in flight is reconciled against the store by the caller.
type RunCache struct {
	rdb *redis.Client
	log *zap.Logger

	mu  sync.RWMutex
	mem map[string]BackgroundRun
}

// NewRunCache connects to redisURL; an empty or unreachable URL yields a
// memory-only cache.
func NewRunCache(redisURL string, logger *zap.Logger) *RunCache {
	c := &RunCache{log: logger, mem: make(map[string]BackgroundRun)}
	if redisURL == "" {
		return c
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory run cache", zap.Error(err))
		return c
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-memory run cache", zap.Error(err))
		return c
	}

	c.rdb = rdb
	return c
}

func cacheKey(id string) string { return "run:" + id }

// Set stores a copy of the run. Failures are logged and swallowed.
func (c *RunCache) Set(ctx context.Context, run *BackgroundRun) {
	if c.rdb != nil {
		data, err := json.Marshal(run)
		if err == nil {
			err = c.rdb.Set(ctx, cacheKey(run.ID), data, cacheTTL).Err()
		}
		if err != nil {
			c.log.Warn("run cache write failed", zap.String("run_id", run.ID), zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[run.ID] = *run
}

// Get returns a cached copy of the run if present.
func (c *RunCache) Get(ctx context.Context, id string) (*BackgroundRun, bool) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
		if err != nil {
			return nil, false
		}
		var run BackgroundRun
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, false
		}
		return &run, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.mem[id]
	if !ok {
		return nil, false
	}
	return &run, true
}

// Close releases the redis connection when one is held.
func (c *RunCache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
