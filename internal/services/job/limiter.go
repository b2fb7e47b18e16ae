package job

import "time"

// DefaultProgressInterval is the minimum time between two progress reports.
const DefaultProgressInterval = 200 * time.Millisecond

// Limiter tells whether enough time has passed since the last report.
// It starts out expired so the first report always goes through.
type Limiter struct {
	now  func() time.Time
	last time.Time
}

// NewLimiter creates a limiter using the given clock, or time.Now when nil.
func NewLimiter(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{now: now}
}

// HasElapsed reports whether at least d passed since the last Reset.
func (l *Limiter) HasElapsed(d time.Duration) bool {
	return l.last.IsZero() || l.now().Sub(l.last) >= d
}

// Reset restarts the interval; call it after each report.
func (l *Limiter) Reset() {
	l.last = l.now()
}

// Expire makes the next HasElapsed call return true.
func (l *Limiter) Expire() {
	l.last = time.Time{}
}
