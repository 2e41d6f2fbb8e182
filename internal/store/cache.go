package store

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erazemk/boxanizer/internal/model"
)

const boxCodeKeyPrefix = "boxanizer:box-code:"

// DefaultCacheTTL bounds how long a code → id mapping is trusted.
const DefaultCacheTTL = 10 * time.Minute

// CachedBoxes is a BoxRepository that remembers which box id carries a code.
// Redis is best effort: errors are logged and the call falls through to the
// wrapped repository. A cached id is only trusted after the box it points to
// is re-read and still carries the code.
type CachedBoxes struct {
	BoxRepository

	Redis *redis.Client
	TTL   time.Duration
}

// NewRedis creates a Redis client for addr, defaulting the port to 6379.
func NewRedis(addr, user, password string) *redis.Client {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr += ":6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: user,
		Password: password,
	})
}

// FindByCode consults the cache before the wrapped repository.
func (c *CachedBoxes) FindByCode(ctx context.Context, code string) (*model.Box, error) {
	key := boxCodeKey(code)

	val, err := c.Redis.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// miss
	case err != nil:
		slog.Warn("can't get box code from redis", "code", code, "error", err)
	default:
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			slog.Warn("can't parse cached box id", "val", val, "error", err)
			break
		}
		b, err := c.BoxRepository.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if b != nil && b.Code == code {
			return b, nil
		}
	}

	b, err := c.BoxRepository.FindByCode(ctx, code)
	if err != nil || b == nil {
		return b, err
	}

	if err := c.Redis.Set(ctx, key, strconv.FormatInt(b.ID, 10), c.ttl()).Err(); err != nil {
		slog.Warn("can't cache box code in redis", "code", code, "error", err)
	}
	return b, nil
}

// Upsert writes through and drops the cached codes of the old and new record.
func (c *CachedBoxes) Upsert(ctx context.Context, b model.Box) (model.Box, error) {
	var oldCode string
	if b.ID != model.NewID {
		if prev, err := c.BoxRepository.FindByID(ctx, b.ID); err == nil && prev != nil {
			oldCode = prev.Code
		}
	}

	stored, err := c.BoxRepository.Upsert(ctx, b)
	if err != nil {
		return stored, err
	}

	c.forget(ctx, oldCode, stored.Code)
	return stored, nil
}

// Delete removes the box and its cached code.
func (c *CachedBoxes) Delete(ctx context.Context, id int64) error {
	prev, err := c.BoxRepository.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := c.BoxRepository.Delete(ctx, id); err != nil {
		return err
	}

	if prev != nil {
		c.forget(ctx, prev.Code)
	}
	return nil
}

func (c *CachedBoxes) forget(ctx context.Context, codes ...string) {
	var keys []string
	for _, code := range codes {
		if code != "" {
			keys = append(keys, boxCodeKey(code))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := c.Redis.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("can't drop box codes from redis", "keys", keys, "error", err)
	}
}

func (c *CachedBoxes) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultCacheTTL
}

func boxCodeKey(code string) string {
	return boxCodeKeyPrefix + code
}
