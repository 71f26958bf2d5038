package binance

import (
	"strconv"
	"sync"
	"time"
)

// MaxRequestsPerMinute is the aggregate request budget across all cohort
// handlers. Binance allows 1200; the buffer leaves room for retries.
const MaxRequestsPerMinute = 1000

// endpointWeights maps spot endpoints to their request weight.
var endpointWeights = map[string]int{
	"/api/v3/klines":       2,
	"/api/v3/ticker/price": 2,
	"/api/v3/openOrders":   3,
	"/api/v3/order":        1,
	"/api/v3/account":      20,
}

// RateLimiter enforces the per-minute request budget before the call
// leaves the process, so the venue never has to throttle us.
type RateLimiter struct {
	mu sync.Mutex

	windowStart time.Time
	usedWeight  int

	throttledUntil time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windowStart: time.Now()}
}

// Wait blocks until the request for the given endpoint fits the budget.
func (r *RateLimiter) Wait(path string) {
	weight := endpointWeights[path]
	if weight == 0 {
		weight = 1
	}

	for {
		r.mu.Lock()
		now := time.Now()

		if now.Before(r.throttledUntil) {
			wait := time.Until(r.throttledUntil)
			r.mu.Unlock()
			time.Sleep(wait)
			continue
		}

		if now.Sub(r.windowStart) >= time.Minute {
			r.windowStart = now
			r.usedWeight = 0
		}

		if r.usedWeight+weight <= MaxRequestsPerMinute {
			r.usedWeight += weight
			r.mu.Unlock()
			return
		}

		wait := time.Minute - now.Sub(r.windowStart)
		r.mu.Unlock()
		time.Sleep(wait)
	}
}

// RecordThrottle backs off after an HTTP 429/418, honoring Retry-After
// when the venue sends one.
func (r *RateLimiter) RecordThrottle(retryAfter string) {
	delay := 30 * time.Second
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		delay = time.Duration(secs) * time.Second
	}

	r.mu.Lock()
	r.throttledUntil = time.Now().Add(delay)
	r.mu.Unlock()
}
