// Package cachepolicy decides how a cached profile may be served, based on
// the soft and hard deadlines set by the last successful fetch.
package cachepolicy

import (
	"fmt"
	"time"
)

// Decision is the outcome of evaluating the deadlines against the clock.
type Decision int

const (
	// StaleForceRefresh: nothing may be served, the caller must wait for a
	// fetch. This is the zero value so unset deadlines are never served.
	StaleForceRefresh Decision = iota
	// StaleBackgroundRefresh: serve the cached value and refresh it
	// concurrently.
	StaleBackgroundRefresh
	// Fresh: serve the cached value as-is.
	Fresh
)

func (d Decision) String() string {
	switch d {
	case Fresh:
		return "fresh"
	case StaleBackgroundRefresh:
		return "stale_background_refresh"
	case StaleForceRefresh:
		return "stale_force_refresh"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Serves reports whether the cached value may be handed out immediately.
func (d Decision) Serves() bool {
	return d == Fresh || d == StaleBackgroundRefresh
}

// Deadlines are the absolute expiry times of the cached profile. The zero
// value means no fetch has succeeded.
type Deadlines struct {
	Soft time.Time
	Hard time.Time
}

// IsZero is true when the deadlines have never been set (or were cleared).
func (d Deadlines) IsZero() bool {
	return d.Soft.IsZero() && d.Hard.IsZero()
}

// Engine holds the soft and hard windows. It is immutable and safe for
// concurrent use.
type Engine struct {
	soft time.Duration
	hard time.Duration
}

// NewEngine validates the windows: both must be positive and the hard window
// must contain the soft one.
func NewEngine(soft, hard time.Duration) (Engine, error) {
	if soft <= 0 {
		return Engine{}, fmt.Errorf("soft TTL must be positive, got %s", soft)
	}
	if hard < soft {
		return Engine{}, fmt.Errorf("hard TTL %s must not be less than soft TTL %s", hard, soft)
	}

	return Engine{soft: soft, hard: hard}, nil
}

func (e Engine) Soft() time.Duration { return e.soft }
func (e Engine) Hard() time.Duration { return e.hard }

// Deadlines computes fresh deadlines from a single clock sample, so Hard is
// never earlier than Soft.
func (e Engine) Deadlines(now time.Time) Deadlines {
	return Deadlines{
		Soft: now.Add(e.soft),
		Hard: now.Add(e.hard),
	}
}

// Decide evaluates the deadlines at now.
func (e Engine) Decide(d Deadlines, now time.Time) Decision {
	switch {
	case now.Before(d.Soft):
		return Fresh
	case now.Before(d.Hard):
		return StaleBackgroundRefresh
	default:
		return StaleForceRefresh
	}
}
