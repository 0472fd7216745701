package traffic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/metrics"
)

// Cache holds estimator results. It is an optimization only: a miss, a
// stale entry or a backend failure just means the estimator is asked again.
type Cache interface {
	Get(ctx context.Context, domain string) (Result, bool)
	Set(ctx context.Context, domain string, r Result)
}

type memoryEntry struct {
	result  Result
	expires time.Time // zero means never
}

// MemoryCache is an in-process Cache. A zero TTL never evicts.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache returns an empty cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) Get(_ context.Context, domain string) (Result, bool) {
	m.mu.RLock()
	e, ok := m.entries[domain]
	m.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		delete(m.entries, domain)
		m.mu.Unlock()
		return Result{}, false
	}
	return e.result, true
}

func (m *MemoryCache) Set(_ context.Context, domain string, r Result) {
	e := memoryEntry{result: r}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[domain] = e
	m.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ConnectRedis opens a client from a redis:// URL or a bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, eris.Wrap(err, "traffic: parse redis url")
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "traffic: ping redis")
	}
	return client, nil
}

const redisKeyPrefix = "adradar:traffic:"

// RedisCache shares estimates across processes. A zero TTL never expires.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache wraps a redis client.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, domain string) (Result, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+domain).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Debug("traffic: redis get failed", zap.String("domain", domain), zap.Error(err))
		}
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, false
	}
	return r, true
}

func (c *RedisCache) Set(ctx context.Context, domain string, r Result) {
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+domain, raw, c.ttl).Err(); err != nil {
		zap.L().Debug("traffic: redis set failed", zap.String("domain", domain), zap.Error(err))
	}
}

// Cached wraps an Estimator with a Cache. Only successful estimates are
// cached so a transient outage is retried on the next pass.
type Cached struct {
	next  Estimator
	cache Cache
}

// NewCached returns an Estimator that consults cache before next.
func NewCached(next Estimator, cache Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

func (c *Cached) Estimate(ctx context.Context, domain string) (Result, error) {
	if r, ok := c.cache.Get(ctx, domain); ok {
		metrics.TrafficLookups.WithLabelValues(string(r.Status), "cache").Inc()
		return r, nil
	}
	r, err := c.next.Estimate(ctx, domain)
	if err != nil {
		return r, err
	}
	metrics.TrafficLookups.WithLabelValues(string(r.Status), "api").Inc()
	if r.OK() {
		c.cache.Set(ctx, domain, r)
	}
	return r, nil
}
