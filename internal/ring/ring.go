// Package ring implements the fixed-capacity circular frame store shared
// between the acquisition loop and the dispatch path.
//
// Discipline: single writer, multiple snapshot readers. The writer never
// blocks on a reader; readers validate a per-slot sequence counter instead
// of taking a lock. Frames still unread when the write cursor wraps are
// overwritten. That is lossy by design: the consumer wants the most recent
// frame, not a backlog.
package ring

import (
	"runtime"
	"sync/atomic"

	"codeberg.org/sverin/daqctl/internal/errors"
)

// SlotState tracks the lifecycle of a single buffer slot.
type SlotState int32

const (
	SlotEmpty SlotState = iota
	SlotWriting
	SlotComplete
)

// Geometry fixes the shape of every frame in a buffer.
type Geometry struct {
	Rows     int
	Channels int
}

// FrameLen returns the sample count of one frame.
func (g Geometry) FrameLen() int {
	return g.Rows * g.Channels
}

// Frame is one completed acquisition: a fixed-size sample block identified
// by its monotonic acquisition index. Samples is a private copy owned by
// the caller.
type Frame struct {
	Index   uint64
	Samples []int16
}

type slot struct {
	seq     atomic.Uint64 // odd while a write is in progress
	state   atomic.Int32
	index   atomic.Uint64
	payload []int16
}

// Buffer is the circular frame store. Slots are allocated once at
// construction and reused on wraparound; the write path never allocates.
type Buffer struct {
	capacity int
	frameLen int
	slots    []slot
	latest   atomic.Int64 // acquisition index of the newest commit, -1 if none
}

// WritableSlot grants exclusive write access to one slot until Commit or
// Abort. Payload is the slot's backing store; the trigger source deposits
// samples directly into it.
type WritableSlot struct {
	Payload []int16
	index   uint64
	s       *slot
}

// Index returns the acquisition index this slot was reserved for.
func (w *WritableSlot) Index() uint64 {
	return w.index
}

// New creates a buffer of capacity fixed-shape frame slots.
//
// Sizing: capacity × period must cover the longest stall in the consumer
// or control-handoff path, otherwise frames are overwritten before they
// are ever read.
func New(capacity int, geom Geometry) (*Buffer, error) {
	errFactory := errors.New()

	if capacity <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, capacity)
	}
	if geom.FrameLen() <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, geom)
	}

	b := &Buffer{
		capacity: capacity,
		frameLen: geom.FrameLen(),
		slots:    make([]slot, capacity),
	}
	for i := range b.slots {
		b.slots[i].payload = make([]int16, b.frameLen)
	}
	b.latest.Store(-1)

	return b, nil
}

// Capacity returns the number of slots.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// FrameLen returns the sample count of one frame.
func (b *Buffer) FrameLen() int {
	return b.frameLen
}

// Write reserves slot index mod capacity for exclusive writing.
//
// Returns overwrite_in_progress if that slot is still marked Writing. Under
// correct scheduling this never happens; it means the capacity/period sizing
// cannot absorb the producer/consumer speed mismatch, and the caller must
// treat it as fatal.
func (b *Buffer) Write(index uint64) (*WritableSlot, error) {
	s := &b.slots[index%uint64(b.capacity)]

	if SlotState(s.state.Load()) == SlotWriting {
		return nil, errors.New().WithData(errors.ErrOverwriteInProgress, index)
	}

	s.seq.Add(1) // now odd: readers back off
	s.state.Store(int32(SlotWriting))

	return &WritableSlot{Payload: s.payload, index: index, s: s}, nil
}

// Commit marks the slot Complete, records its acquisition index and
// publishes it to readers. This is the single synchronization point between
// the producer and any reader.
func (b *Buffer) Commit(w *WritableSlot) {
	w.s.index.Store(w.index)
	w.s.state.Store(int32(SlotComplete))
	w.s.seq.Add(1) // even again: contents stable
	b.latest.Store(int64(w.index))
}

// Abort forcibly resets a Writing slot whose acquisition never completed.
// The slot returns to Empty and is reusable on the next wrap; whatever the
// hardware deposited is discarded.
func (b *Buffer) Abort(w *WritableSlot) {
	w.s.state.Store(int32(SlotEmpty))
	w.s.seq.Add(1)
}

// ReadLatest returns a copy of the most recently committed frame, or false
// if none is available. It never blocks and never observes a torn
// (index, payload) pair: the slot sequence counter is read before and after
// the payload copy and the copy is retried if a wraparound write intervened.
func (b *Buffer) ReadLatest() (Frame, bool) {
	for {
		latest := b.latest.Load()
		if latest < 0 {
			return Frame{}, false
		}

		s := &b.slots[uint64(latest)%uint64(b.capacity)]

		s1 := s.seq.Load()
		if s1&1 != 0 {
			// Wraparound write in flight on this slot; a newer commit or an
			// abort will resolve it.
			runtime.Gosched()
			continue
		}

		if SlotState(s.state.Load()) != SlotComplete || s.index.Load() != uint64(latest) {
			if b.latest.Load() != latest {
				continue // a newer frame landed meanwhile
			}
			// The newest committed frame was overwritten or aborted before
			// being read. Accepted loss; nothing consistent to return.
			return Frame{}, false
		}

		out := make([]int16, b.frameLen)
		copy(out, s.payload)

		if s.seq.Load() != s1 {
			runtime.Gosched()
			continue
		}

		return Frame{Index: uint64(latest), Samples: out}, true
	}
}

// LatestIndex returns the acquisition index of the newest commit and whether
// any commit has happened yet.
func (b *Buffer) LatestIndex() (uint64, bool) {
	latest := b.latest.Load()
	if latest < 0 {
		return 0, false
	}

	return uint64(latest), true
}

// State returns the current lifecycle state of slot k. Intended for
// diagnostics and tests.
func (b *Buffer) State(k int) SlotState {
	return SlotState(b.slots[k%b.capacity].state.Load())
}
