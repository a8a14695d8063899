package integrity

import (
	"sync"
	"time"
)

// DefaultAlertWindow is the minimum gap between two user-visible alerts.
const DefaultAlertWindow = 3 * time.Second

// AlertThrottle admits at most one alert per window.
type AlertThrottle struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
}

// NewAlertThrottle creates a throttle. A non-positive window uses DefaultAlertWindow.
func NewAlertThrottle(window time.Duration) *AlertThrottle {
	if window <= 0 {
		window = DefaultAlertWindow
	}
	return &AlertThrottle{window: window}
}

// Allow reports whether an alert may be shown at now and, if so, starts a
// new window.
func (t *AlertThrottle) Allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		return false
	}
	t.last = now
	return true
}
