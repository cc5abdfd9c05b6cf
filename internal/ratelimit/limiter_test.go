package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type fakeCounters struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeCounters) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounters) Expire(_ context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = d
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCounters) TTL(_ context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewDurationResult(f.expires[key]-90*time.Second, nil)
}

func TestLimiter_FixedWindow(t *testing.T) {
	store := newFakeCounters()
	l := NewLimiter(store, "test-notification:", 5, time.Hour, nil, nil)

	for i := 0; i < 5; i++ {
		res := l.Allow(context.Background(), "u1")
		assert.True(t, res.Allowed, "hit %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res := l.Allow(context.Background(), "u1")
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Hour-90*time.Second, res.RetryAfter)
	assert.Equal(t, time.Hour, store.expires["test-notification:u1"])

	assert.True(t, l.Allow(context.Background(), "u2").Allowed)
}

func TestLimiter_FailsOpen(t *testing.T) {
	store := newFakeCounters()
	store.err = errors.New("connection refused")
	l := NewLimiter(store, "p:", 1, time.Minute, nil, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(context.Background(), "u").Allowed)
	}

	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow(context.Background(), "u").Allowed)
}

func TestRetryMessage(t *testing.T) {
	assert.Equal(t, "Rate limit exceeded. Try again in 3510 seconds.", RetryMessage(58*time.Minute+30*time.Second))
	assert.Equal(t, "Rate limit exceeded. Try again in 2 seconds.", RetryMessage(1500*time.Millisecond))
	assert.Equal(t, "Rate limit exceeded. Try again in 1 seconds.", RetryMessage(0))
}
