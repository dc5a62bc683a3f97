package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type bucket struct {
	count int
	until time.Time
}

// RateLimit applies a fixed-window per-IP limit ahead of the gating
// endpoints. With a redis client the window is shared across instances
// (INCR + EXPIRE on rl:<ip>); without one it falls back to an in-process
// bucket. A failing redis lets requests through: the limiter must not be
// an outage source of its own.
func RateLimit(rdb *redis.Client, limit int, per time.Duration) func(http.Handler) http.Handler {
	if rdb != nil {
		return redisRateLimit(rdb, limit, per)
	}

	var mu sync.Mutex
	buckets := make(map[string]*bucket)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			mu.Lock()
			b, ok := buckets[ip]
			now := time.Now()
			if !ok || now.After(b.until) {
				b = &bucket{count: 0, until: now.Add(per)}
				buckets[ip] = b
			}
			if b.count >= limit {
				mu.Unlock()
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			b.count++
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

func redisRateLimit(rdb *redis.Client, limit int, per time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rl:" + ClientIP(r)
			cnt, err := rdb.Incr(r.Context(), key).Result()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if cnt == 1 {
				rdb.Expire(r.Context(), key, per)
			}
			if cnt > int64(limit) {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
