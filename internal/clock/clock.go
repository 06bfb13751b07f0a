// Package clock checks host wall-clock sanity against an NTP pool.
// Agents stamp their work with local time, so a badly skewed clock
// corrupts ordering across machines; the bootstrap warns rather than
// aborts because the VPN and package steps still work skewed.
package clock

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

const (
	DefaultPool      = "pool.ntp.org"
	DefaultThreshold = 2 * time.Second
)

// Skew is one measurement against the pool.
type Skew struct {
	Offset    time.Duration
	Pool      string
	CheckedAt time.Time
}

func (s Skew) Healthy(threshold time.Duration) bool {
	return s.Offset.Abs() < threshold
}

// QueryFunc is swapped in tests; the default asks the real pool.
type QueryFunc func(pool string) (*ntp.Response, error)

// Checker measures clock offset once per call. No background loop: a
// bootstrap runs the check exactly when the plan reaches it.
type Checker struct {
	Pool      string
	Threshold time.Duration
	Query     QueryFunc
}

func NewChecker() *Checker {
	return &Checker{
		Pool:      DefaultPool,
		Threshold: DefaultThreshold,
		Query:     ntp.Query,
	}
}

// Check queries the pool and returns the measured skew. An unreachable
// pool is an error; the caller decides whether that warns or fails.
func (c *Checker) Check() (Skew, error) {
	resp, err := c.Query(c.Pool)
	if err != nil {
		return Skew{}, fmt.Errorf("query %s: %w", c.Pool, err)
	}
	return Skew{
		Offset:    resp.ClockOffset,
		Pool:      c.Pool,
		CheckedAt: time.Now(),
	}, nil
}
