package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter shared across gateway replicas.
type Redis struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	log    *slog.Logger
}

// NewRedisClient connects to url (redis://...) and checks it answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewRedis(rdb *redis.Client, limit int, win time.Duration, log *slog.Logger) *Redis {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if win <= 0 {
		win = DefaultWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{rdb: rdb, limit: limit, window: win, prefix: "ratelimit:chat:", log: log.With("component", "ratelimit")}
}

// Allow counts the request. The window starts with the first request for a
// key; its expiry is set once, so later requests never extend it. When Redis
// is unavailable the request is let through and the error returned for
// logging.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := r.prefix + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return r.failOpen(err)
	}

	resetAt := time.Now().Add(r.window)
	if d := ttl.Val(); d > 0 {
		resetAt = time.Now().Add(d)
	} else if err := r.rdb.PExpire(ctx, k, r.window).Err(); err != nil {
		return r.failOpen(err)
	}

	count := int(incr.Val())
	if count > r.limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: r.limit - count, ResetAt: resetAt}, nil
}

func (r *Redis) failOpen(err error) (Decision, error) {
	r.log.Warn("rate limiter unavailable, allowing request", "error", err)
	return Decision{Allowed: true, Remaining: r.limit, ResetAt: time.Now().Add(r.window)}, err
}
