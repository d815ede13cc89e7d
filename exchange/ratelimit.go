// exchange/ratelimit.go
package exchange

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Budget tracks one rate-limit resource class over its one minute window.
type Budget struct {
	Limit   int64     `json:"limit"`
	Used    int64     `json:"used"`
	ResetAt time.Time `json:"resetAt"`
}

// utilization returns used/limit in [0,1]; an elapsed window counts as zero.
func (b Budget) utilization(now time.Time) float64 {
	if b.Limit <= 0 || now.After(b.ResetAt) {
		return 0
	}
	return float64(b.Used) / float64(b.Limit)
}

const backoffUtilization = 0.8

// RateLimits is the client-side mirror of the account's request-weight and
// order-count budgets, fed from the venue's response headers. It is a
// best-effort local approximation, not an authoritative counter: multiple
// clients on one account each see only their own responses.
type RateLimits struct {
	mu     sync.Mutex
	weight Budget
	orders Budget
}

func NewRateLimits(weightLimit, orderLimit int64) *RateLimits {
	return &RateLimits{
		weight: Budget{Limit: weightLimit},
		orders: Budget{Limit: orderLimit},
	}
}

// UpdateFromHeaders applies the used-weight and order-count headers of one
// response. Must run before the next backoff decision (update-then-decide).
func (r *RateLimits) UpdateFromHeaders(h http.Header) {
	now := time.Now()
	reset := now.Truncate(time.Minute).Add(time.Minute)

	r.mu.Lock()
	defer r.mu.Unlock()
	if v := h.Get("X-MBX-USED-WEIGHT-1M"); v != "" {
		if used, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.weight.Used = used
			r.weight.ResetAt = reset
		}
	}
	if v := h.Get("X-MBX-ORDER-COUNT-1M"); v != "" {
		if used, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.orders.Used = used
			r.orders.ResetAt = reset
		}
	}
}

// ShouldBackoff reports whether either budget is above 80% of its limit.
// It stays true until the minute window rolls over.
func (r *RateLimits) ShouldBackoff() bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.weight.utilization(now) > backoffUtilization ||
		r.orders.utilization(now) > backoffUtilization
}

// Snapshot returns copies of both budgets for reporting.
func (r *RateLimits) Snapshot() (weight, orders Budget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.weight, r.orders
}
