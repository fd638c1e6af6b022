package server

import (
	"net"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 1000
	limiterTTL       = time.Hour
)

// ipRateLimiter hands out one token bucket per client address. Buckets of
// addresses not seen for limiterTTL are dropped by the LRU.
type ipRateLimiter struct {
	mu    sync.Mutex
	cache gcache.Cache
	r     rate.Limit
	b     int
}

func newIPRateLimiter(r rate.Limit, b int) *ipRateLimiter {
	return &ipRateLimiter{
		cache: gcache.New(limiterCacheSize).LRU().Build(),
		r:     r,
		b:     b,
	}
}

// allow takes one token from the bucket of addr
func (l *ipRateLimiter) allow(addr net.Addr) bool {
	return l.limiter(hostOf(addr)).Allow()
}

func (l *ipRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, err := l.cache.Get(ip); err == nil {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.r, l.b)
	_ = l.cache.SetWithExpire(ip, limiter, limiterTTL)
	return limiter
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
