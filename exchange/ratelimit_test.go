// exchange/ratelimit_test.go
package exchange

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitsUpdateFromHeaders(t *testing.T) {
	limits := NewRateLimits(2400, 1200)
	assert.False(t, limits.ShouldBackoff())

	h := http.Header{}
	h.Set("X-MBX-USED-WEIGHT-1M", "1921")
	limits.UpdateFromHeaders(h)
	// 1921/2400 > 0.8
	assert.True(t, limits.ShouldBackoff())

	h = http.Header{}
	h.Set("X-MBX-USED-WEIGHT-1M", "100")
	limits.UpdateFromHeaders(h)
	assert.False(t, limits.ShouldBackoff())
}

func TestRateLimitsOrderBudget(t *testing.T) {
	limits := NewRateLimits(2400, 1200)
	h := http.Header{}
	h.Set("X-MBX-ORDER-COUNT-1M", "1000")
	limits.UpdateFromHeaders(h)
	// 1000/1200 > 0.8 even though weight is idle.
	assert.True(t, limits.ShouldBackoff())
}

func TestRateLimitsIgnoreGarbageHeaders(t *testing.T) {
	limits := NewRateLimits(2400, 1200)
	h := http.Header{}
	h.Set("X-MBX-USED-WEIGHT-1M", "not-a-number")
	limits.UpdateFromHeaders(h)

	weight, _ := limits.Snapshot()
	assert.Equal(t, int64(0), weight.Used)
}
