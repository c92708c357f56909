package admission

import (
	"sync"

	"golang.org/x/time/rate"
)

// WhistleLimiter enforces a per-whistler-GUID token bucket in front of
// can_whistle, one limiter per GUID created lazily on first use. This plays
// the same role as the teacher's sync.Map-of-TokenBucket limiter, rebuilt on
// x/time/rate instead of a hand-rolled bucket.
type WhistleLimiter struct {
	perSec float64
	burst  int
	guids  sync.Map // guid string -> *rate.Limiter
}

// NewWhistleLimiter creates a limiter admitting perSec publishes per second
// per GUID, with burst headroom above that steady rate.
func NewWhistleLimiter(perSec float64, burst int) *WhistleLimiter {
	return &WhistleLimiter{perSec: perSec, burst: burst}
}

// Allow reports whether guid may publish now, consuming a token if so.
func (w *WhistleLimiter) Allow(guid string) bool {
	return w.limiterFor(guid).Allow()
}

func (w *WhistleLimiter) limiterFor(guid string) *rate.Limiter {
	if v, ok := w.guids.Load(guid); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(w.perSec), w.burst)
	actual, _ := w.guids.LoadOrStore(guid, l)
	return actual.(*rate.Limiter)
}

// Remove drops guid's limiter, for use when a client is removed from config.
func (w *WhistleLimiter) Remove(guid string) {
	w.guids.Delete(guid)
}
