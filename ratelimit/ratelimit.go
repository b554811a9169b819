// Package ratelimit provides fixed window limiters for login and forgot
// password attempts.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	auth "github.com/goliatone/go-session-auth"
	"github.com/redis/go-redis/v9"
)

var (
	_ auth.Limiter = (*Redis)(nil)
	_ auth.Limiter = (*Memory)(nil)
)

// fixedWindow increments the counter of KEYS[1] and starts its window on the
// first hit. It returns the count after the increment.
var fixedWindow = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// Redis is a fixed window limiter shared by every instance using the same
// redis server.
type Redis struct {
	client redis.Scripter
	limit  int64
	window time.Duration
	prefix string
}

// NewRedis allows limit attempts per key every window.
func NewRedis(client redis.Scripter, limit int, window time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: prefix,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	count, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + ":" + key}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit %s: %w", key, err)
	}
	return count <= r.limit, nil
}

type bucket struct {
	count   int64
	resetAt time.Time
}

// Memory is a process local fixed window limiter
type Memory struct {
	mu      sync.Mutex
	limit   int64
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemory allows limit attempts per key every window.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   int64(limit),
		window:  window,
		buckets: map[string]*bucket{},
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(m.window)}
		m.buckets[key] = b
	}

	b.count++
	return b.count <= m.limit, nil
}

// Sweep drops expired windows.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, b := range m.buckets {
		if !now.Before(b.resetAt) {
			delete(m.buckets, key)
		}
	}
}
