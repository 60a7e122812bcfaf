// Package trigger defines the boundary to the external trigger source: the
// subsystem that, once armed, performs one physical or simulated acquisition
// and deposits a fixed-size sample block into the destination it was armed
// with.
package trigger

// SlotDescriptor names the destination of a single acquisition. Dst is the
// backing store of a reserved ring slot; the source writes samples directly
// into it and must not retain the slice after completion is delivered.
type SlotDescriptor struct {
	Index uint64
	Dst   []int16
}

// Completion reports the outcome of one fired acquisition. A nil Err means
// the armed destination now holds a full sample block. A non-nil Err is a
// hardware fault; the deposited data must be considered garbage.
type Completion struct {
	Err error
}

// Source is the external trigger source.
//
// Protocol: Arm prepares exactly one acquisition, Fire begins it. Fire is
// asynchronous; the returned channel delivers exactly one Completion unless
// the source dies silently, which the caller bounds with its own deadline.
type Source interface {
	// Arm prepares a single acquisition targeting the given destination.
	Arm(desc SlotDescriptor) error

	// Fire begins the armed acquisition. Fails if nothing is armed.
	Fire() (<-chan Completion, error)

	// Close releases the source. No completions are delivered afterwards.
	Close() error
}
