package trigger

import (
	"sync"
	"time"

	"codeberg.org/sverin/daqctl/internal/errors"
)

// Sim is a simulated trigger source. Each fired acquisition completes after
// a fixed propagation delay with a deterministic ramp written into the armed
// destination.
//
// FaultAt and DropAt inject failures for a given acquisition index: a fault
// completes the cycle with an error, a drop never delivers a completion at
// all (the scheduler's deadline has to catch it). Both must be set before
// the first Fire and are safe to leave nil.
type Sim struct {
	FaultAt func(index uint64) error
	DropAt  func(index uint64) bool

	propagation time.Duration

	mu     sync.Mutex
	armed  *SlotDescriptor
	closed bool
}

// NewSim creates a simulated source with the given propagation delay.
func NewSim(propagation time.Duration) *Sim {
	return &Sim{propagation: propagation}
}

func (s *Sim) Arm(desc SlotDescriptor) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errFactory.New(ErrClosed)
	}
	if s.armed != nil {
		return errFactory.WithData(ErrAlreadyArmed, s.armed.Index)
	}
	if len(desc.Dst) == 0 {
		return errFactory.WithData(ErrBadSlot, desc.Index)
	}

	s.armed = &desc

	return nil
}

func (s *Sim) Fire() (<-chan Completion, error) {
	errFactory := errors.New()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errFactory.New(ErrClosed)
	}
	if s.armed == nil {
		s.mu.Unlock()
		return nil, errFactory.New(ErrNotArmed)
	}
	desc := *s.armed
	s.armed = nil
	faultAt := s.FaultAt
	dropAt := s.DropAt
	s.mu.Unlock()

	done := make(chan Completion, 1)

	go func() {
		if s.propagation > 0 {
			time.Sleep(s.propagation)
		}

		if dropAt != nil && dropAt(desc.Index) {
			return // completion lost, caller times out
		}

		if faultAt != nil {
			if err := faultAt(desc.Index); err != nil {
				done <- Completion{Err: err}
				return
			}
		}

		fill(desc)
		done <- Completion{}
	}()

	return done, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.armed = nil

	return nil
}

// fill deposits a deterministic ramp keyed by acquisition index, so tests
// can tell frames apart by content as well as by index.
func fill(desc SlotDescriptor) {
	base := int16(desc.Index % 1024)
	for i := range desc.Dst {
		desc.Dst[i] = base + int16(i%64)
	}
}
