// Package ratelimit provides per-Hub-endpoint admission control so
// that all replicas of this service collectively respect the Hub's
// published quota.
package ratelimit

import (
	"context"
	"time"
)

// window is the fixed window length shared by every endpoint counter.
const window = time.Minute

// Usage reports the current window's consumption for one endpoint.
type Usage struct {
	Endpoint      string    `json:"endpoint"`
	Count         int       `json:"count"`
	Limit         int       `json:"limit"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// Remaining is the number of calls left in the current window.
func (u Usage) Remaining() int {
	if u.Count >= u.Limit {
		return 0
	}
	return u.Limit - u.Count
}

// Limiter gates outbound Hub calls with a fixed 60s window per
// endpoint name.
type Limiter interface {
	// Allow atomically counts a call attempt against the endpoint's
	// current window and reports whether it was admitted.
	Allow(ctx context.Context, endpoint string) (bool, error)
	// Usage returns the endpoint's current window consumption.
	Usage(ctx context.Context, endpoint string) (Usage, error)
}
