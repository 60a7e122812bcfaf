// Package dispatch decimates the acquisition stream: once every
// processingCadence acquisitions the most recent completed frame is handed
// to the processing sink, and once every controlCadence acquisitions the
// loop yields to the supervisor checkpoint.
//
// Frames between dispatch points are never delivered. This is intentional
// lossy decimation, not a queue; the sink always sees the newest frame the
// buffer holds.
package dispatch

import (
	"sync"
	"sync/atomic"

	"codeberg.org/sverin/daqctl/internal/errors"
	"codeberg.org/sverin/daqctl/internal/ring"
)

// Sink consumes dispatched frames. Accept is invoked at most once per
// dispatch point and never concurrently with itself.
type Sink interface {
	Accept(frame ring.Frame)
}

// Policy selects what happens when a dispatch point arrives while the sink
// is still busy with the previous frame.
type Policy string

const (
	// PolicySkip skips the dispatch point; the undelivered frame stays with
	// the sink. Default.
	PolicySkip Policy = "skip"

	// PolicyReplace keeps strict cadence: the unconsumed frame is dropped
	// and replaced with the current one.
	PolicyReplace Policy = "replace"
)

// Checkpoint is the cooperative control handoff, called on the acquisition
// goroutine at the configured control cadence. It must return quickly.
type Checkpoint func(counter uint64)

// Config fixes the dispatcher cadences and busy policy.
type Config struct {
	ProcessingCadence uint64
	ControlCadence    uint64
	Policy            Policy
}

func (c Config) validate() error {
	errFactory := errors.New()

	if c.ProcessingCadence < 1 {
		return errFactory.WithData(errors.ErrInvalidArgument, c.ProcessingCadence)
	}
	if c.ControlCadence < 1 {
		return errFactory.WithData(errors.ErrInvalidArgument, c.ControlCadence)
	}
	if c.Policy != PolicySkip && c.Policy != PolicyReplace {
		return errFactory.WithData(errors.ErrInvalidArgument, c.Policy)
	}

	return nil
}

// Stats is a snapshot of dispatcher activity. Skips and Drops distinguish
// the two busy outcomes so a slow sink is visible even though the
// acquisition loop never blocks on it.
type Stats struct {
	Dispatches uint64
	Skips      uint64
	Drops      uint64
	Yields     uint64
}

// Dispatcher forwards throttled frames to the sink through a single-slot
// mailbox. The mailbox decouples the acquisition goroutine from the sink:
// publishing is O(1) and never blocks, the sink consumes on its own
// goroutine.
type Dispatcher struct {
	buf        *ring.Buffer
	sink       Sink
	cfg        Config
	checkpoint Checkpoint

	mu      sync.Mutex
	cond    *sync.Cond
	pending *ring.Frame // nil = consumed
	closed  bool
	wg      sync.WaitGroup
	started bool

	dispatches atomic.Uint64
	skips      atomic.Uint64
	drops      atomic.Uint64
	yields     atomic.Uint64
}

func New(buf *ring.Buffer, sink Sink, cfg Config, checkpoint Checkpoint) (*Dispatcher, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicySkip
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		buf:        buf,
		sink:       sink,
		cfg:        cfg,
		checkpoint: checkpoint,
	}
	d.cond = sync.NewCond(&d.mu)

	return d, nil
}

// Start spawns the sink goroutine. Must be called before the first Tick.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true

	d.wg.Add(1)
	go d.sinkLoop()
}

// Stop shuts the sink goroutine down and waits for it. An unconsumed
// mailbox frame is dropped and counted. Idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.wg.Wait()
}

// Tick inspects the acquisition counter after a committed cycle. Runs on
// the acquisition goroutine and never blocks.
func (d *Dispatcher) Tick(counter uint64) {
	if counter%d.cfg.ProcessingCadence == 0 {
		d.dispatch()
	}

	if counter%d.cfg.ControlCadence == 0 {
		d.yields.Add(1)
		if d.checkpoint != nil {
			d.checkpoint(counter)
		}
	}
}

// Stats returns an activity snapshot. Safe for concurrent use.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatches: d.dispatches.Load(),
		Skips:      d.skips.Load(),
		Drops:      d.drops.Load(),
		Yields:     d.yields.Load(),
	}
}

func (d *Dispatcher) dispatch() {
	frame, ok := d.buf.ReadLatest()
	if !ok {
		return
	}

	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return
	}

	if d.pending != nil {
		if d.cfg.Policy == PolicySkip {
			d.skips.Add(1)
			d.mu.Unlock()
			return
		}
		// strict cadence: newer frame wins
		d.drops.Add(1)
	}

	d.pending = &frame
	d.dispatches.Add(1)
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *Dispatcher) sinkLoop() {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		for d.pending == nil && !d.closed {
			d.cond.Wait()
		}

		if d.closed {
			if d.pending != nil {
				d.drops.Add(1)
				d.pending = nil
			}
			d.mu.Unlock()
			return
		}

		frame := *d.pending
		d.pending = nil
		d.mu.Unlock()

		d.sink.Accept(frame)
	}
}
