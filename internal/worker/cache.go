package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"syncboard/internal/redis"
)

const (
	renderCachePrefix = "render:"
	renderCacheTTL    = 10 * time.Minute
)

// Renderer is what the cache sits in front of; Dispatcher satisfies it.
type Renderer interface {
	Render(ctx context.Context, task RenderTask) (RenderResult, error)
}

// CachingRenderer keeps finished exports in redis so repeated downloads of
// an unchanged board skip the pool.
type CachingRenderer struct {
	inner  Renderer
	client *redis.Client
	ttl    time.Duration
}

// NewCachingRenderer wraps inner. A nil client disables caching.
func NewCachingRenderer(inner Renderer, client *redis.Client, ttl time.Duration) *CachingRenderer {
	if ttl <= 0 {
		ttl = renderCacheTTL
	}
	return &CachingRenderer{inner: inner, client: client, ttl: ttl}
}

func renderCacheKey(task RenderTask) string {
	o := task.Options
	return fmt.Sprintf("%s%s:%s:%s:%dx%d:%s", renderCachePrefix, task.SessionID, task.Revision, task.Format, o.Width, o.Height, o.Background)
}

func (c *CachingRenderer) Render(ctx context.Context, task RenderTask) (RenderResult, error) {
	if c.client == nil || task.Revision == "" {
		return c.inner.Render(ctx, task)
	}
	key := renderCacheKey(task)
	if res, ok := c.load(ctx, key); ok {
		debugLog("render cache hit %s", key)
		return res, nil
	}
	res, err := c.inner.Render(ctx, task)
	if err != nil {
		return res, err
	}
	c.store(ctx, key, res)
	return res, nil
}

func (c *CachingRenderer) load(ctx context.Context, key string) (RenderResult, bool) {
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("render cache load failed: %v", err)
		}
		return RenderResult{}, false
	}
	var res RenderResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		log.Printf("render cache decode failed: %v", err)
		return RenderResult{}, false
	}
	return res, true
}

func (c *CachingRenderer) store(ctx context.Context, key string, res RenderResult) {
	data, err := json.Marshal(res)
	if err != nil {
		log.Printf("render cache marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		log.Printf("render cache store failed: %v", err)
	}
}
