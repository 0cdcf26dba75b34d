package dialogue

import (
	"sync"
	"time"
)

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(key string) bool
}

type window struct {
	start time.Time
	count int
}

// FixedWindowLimiter allows limit requests per key in each window. A key's window
// opens on its first request and resets once it has elapsed, independently of other keys.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// LimiterOption configures a FixedWindowLimiter.
type LimiterOption func(*FixedWindowLimiter)

// WithClock replaces time.Now, letting tests control window expiry.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *FixedWindowLimiter) { l.now = now }
}

// WithoutEviction disables the background sweep of expired keys.
func WithoutEviction() LimiterOption {
	return func(l *FixedWindowLimiter) { l.done = nil }
}

// NewFixedWindowLimiter creates a limiter and starts its background eviction loop.
// Call Stop to end the loop.
func NewFixedWindowLimiter(limit int, period time.Duration, opts ...LimiterOption) *FixedWindowLimiter {
	if limit <= 0 {
		limit = 10
	}
	if period <= 0 {
		period = time.Minute
	}
	l := &FixedWindowLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.done != nil {
		l.startEviction()
	}
	return l
}

// Allow records a request for key and reports whether it is within the quota.
func (l *FixedWindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Len returns the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Evict drops every key whose window has expired.
func (l *FixedWindowLimiter) Evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, key)
		}
	}
}

func (l *FixedWindowLimiter) startEviction() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.period)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				l.Evict()
			}
		}
	}()
}

// Stop ends the eviction loop and waits for it to exit.
func (l *FixedWindowLimiter) Stop() {
	l.stopOnce.Do(func() {
		if l.done != nil {
			close(l.done)
		}
	})
	l.wg.Wait()
}
