// Package store provides sliding-window event stores for rate limiting.
package store

import (
	"context"
	"strconv"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the maximum number of events per window.
	Limit int

	// Remaining is how many more events the window admits.
	Remaining int

	// ResetAt is when a fully saturated window would open again.
	ResetAt time.Time

	// Current is the number of events observed in the window, this
	// request included.
	Current int
}

// Store records request events and decides admission over a sliding
// window. Implementations are safe for concurrent use.
type Store interface {
	// Allow records a request event for the identifier and decides
	// whether it fits within limit events per window.
	Allow(ctx context.Context, identifier string, limit int, window time.Duration) (*Decision, error)

	// Reset clears the identifier's window state.
	Reset(ctx context.Context, identifier string, window time.Duration) error

	// Close releases store resources.
	Close() error
}

// windowKey builds the per-(identifier, window) state key. Distinct
// window lengths for the same identifier track independently.
func windowKey(identifier string, window time.Duration) string {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return identifier + ":" + strconv.FormatInt(secs, 10)
}
