package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// untrackedMarker is cached for zones that have no document.
var untrackedMarker = []byte("-")

func encodeEntry(cfg *duty.Config) ([]byte, error) {
	if cfg == nil {
		return untrackedMarker, nil
	}
	return duty.Encode(cfg)
}

func decodeEntry(data []byte, zoneID uint32) (*duty.Config, error) {
	if bytes.Equal(data, untrackedMarker) {
		return nil, nil //nolint:nilnil // untracked zone
	}
	return decode(data, zoneID)
}

// Cached keeps documents, and the fact that a zone is untracked, in process memory.
// Errors from the wrapped fetcher are not cached.
type Cached struct {
	next  Fetcher
	cache *freecache.Cache
	ttl   int
}

// NewCached wraps next with a cache of sizeBytes. freecache enforces a floor of 512 KiB.
func NewCached(next Fetcher, sizeBytes int, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: freecache.NewCache(sizeBytes),
		ttl:   int(ttl / time.Second),
	}
}

func (c *Cached) Fetch(ctx context.Context, zoneID uint32) (*duty.Config, error) {
	key := cacheKey(zoneID)
	if data, err := c.cache.Get(key); err == nil {
		if cfg, err := decodeEntry(data, zoneID); err == nil {
			return cfg, nil
		}
		c.cache.Del(key)
	}

	cfg, err := c.next.Fetch(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if data, err := encodeEntry(cfg); err == nil {
		// A document too large for the cache is simply not cached.
		_ = c.cache.Set(key, data, c.ttl)
	}
	return cfg, nil
}

// Invalidate drops the cached entry for zoneID.
func (c *Cached) Invalidate(zoneID uint32) {
	c.cache.Del(cacheKey(zoneID))
}

func cacheKey(zoneID uint32) []byte {
	return []byte(fmt.Sprintf("duty:%d", zoneID))
}

// Redis shares documents between uploader processes through a redis server. Redis being down
// degrades to calling the wrapped fetcher directly.
type Redis struct {
	next   Fetcher
	client redis.Cmdable
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedis(next Fetcher, client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Redis {
	return &Redis{next: next, client: client, ttl: ttl, log: logger}
}

func RedisKey(zoneID uint32) string {
	return fmt.Sprintf("memo:duty:%d", zoneID)
}

func (r *Redis) Fetch(ctx context.Context, zoneID uint32) (*duty.Config, error) {
	key := RedisKey(zoneID)

	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		cfg, decodeErr := decodeEntry(data, zoneID)
		if decodeErr == nil {
			return cfg, nil
		}
		r.log.Warn().Err(decodeErr).Str("key", key).Msg("dropping undecodable cached duty config")
	case errors.Is(err, redis.Nil):
	default:
		r.log.Warn().Err(err).Str("key", key).Msg("redis lookup failed")
	}

	cfg, err := r.next.Fetch(ctx, zoneID)
	if err != nil {
		return nil, err
	}

	entry, err := encodeEntry(cfg)
	if err != nil {
		return cfg, nil //nolint:nilerr // caching is best effort
	}
	if err := r.client.Set(ctx, key, entry, r.ttl).Err(); err != nil {
		r.log.Warn().Err(eris.Wrap(err, "")).Str("key", key).Msg("redis store failed")
	}
	return cfg, nil
}
