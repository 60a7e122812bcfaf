// Package sched drives the trigger source at the configured rate and lands
// every completed acquisition in the ring buffer. The loop never waits on
// the processing side; its only blocking points are the wait for the next
// scheduled instant and the deadline-bounded wait for hardware completion.
package sched

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/sverin/daqctl/internal/errors"
	"codeberg.org/sverin/daqctl/internal/logger"
	"codeberg.org/sverin/daqctl/internal/ring"
	"codeberg.org/sverin/daqctl/internal/trigger"
)

// timeoutFactor bounds the wait for one acquisition: no completion within
// timeoutFactor × period counts as a timed-out cycle.
const timeoutFactor = 4

// Dispatcher observes the acquisition counter after every committed cycle.
// Implementations must not block; they run on the acquisition goroutine.
type Dispatcher interface {
	Tick(counter uint64)
}

// Stats is a snapshot of scheduler progress.
type Stats struct {
	Acquisitions uint64
	Timeouts     uint64
}

// Scheduler owns the acquisition loop: wait for the scheduled instant,
// reserve the next ring slot, arm and fire the source, commit on
// completion.
type Scheduler struct {
	buf    *ring.Buffer
	src    trigger.Source
	timing *Timing
	disp   Dispatcher

	counter  atomic.Uint64 // completed acquisitions, never resets
	timeouts atomic.Uint64
}

func New(buf *ring.Buffer, src trigger.Source, timing *Timing, disp Dispatcher) *Scheduler {
	return &Scheduler{
		buf:    buf,
		src:    src,
		timing: timing,
		disp:   disp,
	}
}

// Counter returns the number of completed acquisitions.
func (s *Scheduler) Counter() uint64 {
	return s.counter.Load()
}

// Stats returns a progress snapshot. Safe for concurrent use.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Acquisitions: s.counter.Load(),
		Timeouts:     s.timeouts.Load(),
	}
}

// Run executes the acquisition loop until ctx is cancelled or a fatal
// condition occurs. Cancellation is honored between cycles, never
// mid-acquisition. A hardware fault or a ring sizing violation is fatal and
// returned; a timed-out cycle is counted and skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	lastFire := time.Now()

	for {
		// Period is sampled once per cycle, here. A rate change published
		// after this point governs the next cycle.
		period := s.timing.Period()

		timer.Reset(time.Until(lastFire.Add(period)))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		lastFire = time.Now()
		if err := s.cycle(period); err != nil {
			return err
		}
	}
}

// cycle performs one acquisition. nil on success or on a recoverable
// timeout; non-nil only for fatal conditions.
func (s *Scheduler) cycle(period time.Duration) error {
	errFactory := errors.New()
	index := s.counter.Load()

	w, err := s.buf.Write(index)
	if err != nil {
		// Slot still mid-write: capacity × period cannot absorb the
		// producer/consumer mismatch. Fatal, wrap-prone data would corrupt.
		return err
	}

	if err := s.src.Arm(trigger.SlotDescriptor{Index: index, Dst: w.Payload}); err != nil {
		s.buf.Abort(w)
		return errFactory.Wrap(errors.ErrHardwareFault, err)
	}

	done, err := s.src.Fire()
	if err != nil {
		s.buf.Abort(w)
		return errFactory.Wrap(errors.ErrHardwareFault, err)
	}

	deadline := time.NewTimer(timeoutFactor * period)
	defer deadline.Stop()

	select {
	case c := <-done:
		if c.Err != nil {
			s.buf.Abort(w)
			return errFactory.Wrap(errors.ErrHardwareFault, c.Err)
		}

		s.buf.Commit(w)
		n := s.counter.Add(1)
		if s.disp != nil {
			s.disp.Tick(n)
		}

		return nil

	case <-deadline.C:
		// One bad cycle: drop the slot, count it, keep the loop running.
		s.buf.Abort(w)
		s.timeouts.Add(1)
		logger.Warn().
			Str("error_code", string(errors.ErrAcquisitionTimeout)).
			Uint64("acquisition_index", index).
			Dur("deadline", timeoutFactor*period).
			Msg("Acquisition timed out, cycle dropped")

		return nil
	}
}
