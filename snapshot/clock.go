// Package snapshot issues the "as of" time that freezes a search traversal.
package snapshot

import (
	"time"

	"github.com/goliatone/go-recall-search/cursor"
	"github.com/goliatone/go-recall-search/recall"
)

// DefaultGranularity is the window first-page snapshots are rounded down to.
// Requests for the same filter inside one window share a snapshot, so they
// share a cache key and an ETag.
const DefaultGranularity = time.Second

// Clock mints snapshot times. The zero value uses the wall clock and
// DefaultGranularity.
type Clock struct {
	Now         func() time.Time
	Granularity time.Duration
}

// Option configures a Clock.
type Option func(*Clock)

// WithGranularity sets the rounding window. Values at or below one
// microsecond keep the store's full resolution.
func WithGranularity(d time.Duration) Option {
	return func(c *Clock) {
		c.Granularity = d
	}
}

// New returns a clock reading from now, or the wall clock when now is nil.
func New(now func() time.Time, opts ...Option) Clock {
	c := Clock{Now: now, Granularity: DefaultGranularity}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Mint returns a fresh snapshot time for a traversal's first page, in UTC,
// rounded down to the clock's granularity.
func (c Clock) Mint() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := recall.NormalizeTime(now())

	g := c.Granularity
	if g == 0 {
		g = DefaultGranularity
	}
	if g > time.Microsecond {
		t = t.Truncate(g)
	}
	return t
}

// Resume returns the snapshot time carried by a cursor, untouched.
func (c Clock) Resume(state cursor.State) time.Time {
	return state.AsOf
}
