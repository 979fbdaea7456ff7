package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedLimiterKeys caps the number of tracked per-key limiters to
// prevent memory exhaustion from an attacker rotating source keys, the same
// bound goclaw's own webhook rate limiter enforces on its tracked-key map.
const maxTrackedLimiterKeys = 4096

// keyedLimiter is a per-remote-key token bucket limiter: every bearer token
// (or, absent one, source address) gets its own *rate.Limiter, so one
// caller exhausting its own quota never starves any other operator or
// webhook sharing the same API.
type keyedLimiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	limiters map[string]*rateLimiterEntry
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(rps rate.Limit, burst int) *keyedLimiter {
	return &keyedLimiter{rps: rps, burst: burst, limiters: make(map[string]*rateLimiterEntry)}
}

// allow reports whether a request keyed by key may proceed, creating a
// fresh limiter on first use and evicting stale entries once the tracked
// set approaches its cap.
func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	if len(k.limiters) >= maxTrackedLimiterKeys {
		for existing, e := range k.limiters {
			if now.Sub(e.lastSeen) >= time.Hour {
				delete(k.limiters, existing)
			}
		}
		for len(k.limiters) >= maxTrackedLimiterKeys {
			for existing := range k.limiters {
				delete(k.limiters, existing)
				break
			}
		}
	}

	e, ok := k.limiters[key]
	if !ok {
		e = &rateLimiterEntry{limiter: rate.NewLimiter(k.rps, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// rateLimitKey identifies the caller a request's quota is tracked under:
// its bearer token if present, otherwise its source address stripped of
// port, matching goclaw's own "one bucket per remote key" webhook limiter.
func rateLimitKey(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return "token:" + token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
