// Package ratelimit gates outbound HTTP requests to a vendor.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Doer is the request side of an HTTP client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MinInterval enforces a minimum time between the start of requests.
// Concurrent callers queue for consecutive slots, or return early if the
// request context is canceled.
type MinInterval struct {
	Next     Doer
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Do(req *http.Request) (*http.Response, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		now := time.Now()
		slot := m.next
		if slot.Before(now) {
			slot = now
		}
		m.next = slot.Add(m.Interval)
		m.mu.Unlock()

		if wait := time.Until(slot); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-t.C:
			}
		}
	}
	return m.Next.Do(req)
}

// Limiter gates requests through a token bucket.
type Limiter struct {
	Next Doer
	L    *rate.Limiter
}

// PerMinute builds a limiter allowing n requests per minute with the given
// burst. n <= 0 means unlimited.
func PerMinute(next Doer, n, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if n > 0 {
		limit = rate.Limit(float64(n) / 60)
	}
	return &Limiter{Next: next, L: rate.NewLimiter(limit, burst)}
}

func (l *Limiter) Do(req *http.Request) (*http.Response, error) {
	if l.L != nil {
		if err := l.L.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return l.Next.Do(req)
}

// Wrap applies the configured gates around next. Zero values leave next
// untouched.
func Wrap(next Doer, perMinute, burst int, minInterval time.Duration) Doer {
	if perMinute > 0 {
		next = PerMinute(next, perMinute, burst)
	}
	if minInterval > 0 {
		next = &MinInterval{Next: next, Interval: minInterval}
	}
	return next
}
