// Package ratelimit implements a Redis fixed-window counter for per-user quotas.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/metrics"
)

// counterStore is the subset of redis.Cmdable the limiter uses.
type counterStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Result of one Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	store   counterStore
	prefix  string
	limit   int
	window  time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewLimiter(store counterStore, prefix string, limit int, window time.Duration, log *logger.Logger, m *metrics.Metrics) *Limiter {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New("stockalert")
	}
	return &Limiter{
		store:   store,
		prefix:  prefix,
		limit:   limit,
		window:  window,
		logger:  log,
		metrics: m,
	}
}

// Allow counts one hit for key. Redis failures allow the request: a quota outage
// must not block users.
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	if l == nil || l.store == nil {
		return Result{Allowed: true, Remaining: -1}
	}
	k := l.prefix + key

	count, err := l.store.Incr(ctx, k).Result()
	if err != nil {
		l.failOpen(err, "incr")
		return Result{Allowed: true, Remaining: -1}
	}
	l.metrics.RedisOperations.WithLabelValues("incr", "success").Inc()

	if count == 1 {
		if err := l.store.Expire(ctx, k, l.window).Err(); err != nil {
			l.failOpen(err, "expire")
		}
	}

	if int(count) <= l.limit {
		return Result{Allowed: true, Remaining: l.limit - int(count)}
	}

	retry, err := l.store.TTL(ctx, k).Result()
	if err != nil || retry <= 0 {
		retry = l.window
	}
	return Result{Allowed: false, RetryAfter: retry}
}

func (l *Limiter) failOpen(err error, op string) {
	l.metrics.RedisOperations.WithLabelValues(op, "error").Inc()
	l.logger.Warn("Rate limiter unavailable, allowing request", "operation", op, "error", err.Error())
}

// RetryMessage formats the client-facing 429 text.
func RetryMessage(retry time.Duration) string {
	return fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retrySeconds(retry))
}

func retrySeconds(retry time.Duration) int {
	seconds := int((retry + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// RetryAfterHeader is RetryMessage's seconds value for the Retry-After header.
func RetryAfterHeader(retry time.Duration) string {
	return strconv.Itoa(retrySeconds(retry))
}
