package sched

import (
	"sync/atomic"
	"time"

	"codeberg.org/sverin/daqctl/internal/errors"
)

// Timing holds the current inter-acquisition period. Single writer
// (RateController), single reader (Scheduler); the period is published
// atomically so a cycle sees either the old or the new value, never a torn
// one.
type Timing struct {
	period    atomic.Int64 // nanoseconds
	minPeriod time.Duration
}

// NewTiming creates a timing config with the given initial period and the
// hardware-enforced minimum (round-trip propagation + transfer + setup
// overhead for the configured geometry).
func NewTiming(initial, minPeriod time.Duration) (*Timing, error) {
	errFactory := errors.New()

	if minPeriod <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, minPeriod)
	}
	if initial < minPeriod {
		return nil, errFactory.WithData(errors.ErrPeriodTooShort, initial)
	}

	t := &Timing{minPeriod: minPeriod}
	t.period.Store(int64(initial))

	return t, nil
}

// Period returns the current inter-acquisition period.
func (t *Timing) Period() time.Duration {
	return time.Duration(t.period.Load())
}

// MinPeriod returns the hardware-enforced minimum period.
func (t *Timing) MinPeriod() time.Duration {
	return t.minPeriod
}

// RateRequest asks the supervisor to retune the acquisition period. It is
// applied at a control checkpoint, never mid-cycle.
type RateRequest struct {
	Period time.Duration
}

// RateController is the single writer of a Timing config. Period changes
// take effect at the next scheduled instant; an in-flight acquisition is
// never truncated because the scheduler samples the period once per cycle.
type RateController struct {
	timing *Timing
}

func NewRateController(t *Timing) *RateController {
	return &RateController{timing: t}
}

// SetPeriod validates and atomically publishes a new period. A request
// below the hardware minimum is rejected with period_too_short and the
// previous period is retained.
func (c *RateController) SetPeriod(period time.Duration) error {
	if period < c.timing.minPeriod {
		return errors.New().WithData(errors.ErrPeriodTooShort, struct {
			Requested time.Duration
			Minimum   time.Duration
		}{
			Requested: period,
			Minimum:   c.timing.minPeriod,
		})
	}

	c.timing.period.Store(int64(period))

	return nil
}
