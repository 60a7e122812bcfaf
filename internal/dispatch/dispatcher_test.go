package dispatch_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/sverin/daqctl/internal/dispatch"
	"codeberg.org/sverin/daqctl/internal/ring"
)

var testGeom = ring.Geometry{Rows: 2, Channels: 4}

func newBuffer(t *testing.T, capacity int) *ring.Buffer {
	t.Helper()

	buf, err := ring.New(capacity, testGeom)
	require.NoError(t, err)

	return buf
}

type collectSink struct {
	mu     sync.Mutex
	frames []ring.Frame
}

func (s *collectSink) Accept(frame ring.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

func (s *collectSink) indices() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint64, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Index
	}
	return out
}

// gateSink blocks inside Accept until released, so tests can hold the sink
// busy deterministically.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
	frames  []ring.Frame
	mu      sync.Mutex
}

func newGateSink() *gateSink {
	return &gateSink{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (s *gateSink) Accept(frame ring.Frame) {
	s.entered <- struct{}{}
	<-s.release

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func TestConfigValidation(t *testing.T) {
	buf := newBuffer(t, 4)

	_, err := dispatch.New(buf, &collectSink{}, dispatch.Config{ProcessingCadence: 0, ControlCadence: 1}, nil)
	require.Error(t, err)

	_, err = dispatch.New(buf, &collectSink{}, dispatch.Config{ProcessingCadence: 1, ControlCadence: 0}, nil)
	require.Error(t, err)

	_, err = dispatch.New(buf, &collectSink{}, dispatch.Config{
		ProcessingCadence: 1,
		ControlCadence:    1,
		Policy:            dispatch.Policy("queue"),
	}, nil)
	require.Error(t, err)

	// Empty policy defaults to skip.
	d, err := dispatch.New(buf, &collectSink{}, dispatch.Config{ProcessingCadence: 1, ControlCadence: 1}, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestDispatchAndYieldCadence(t *testing.T) {
	buf := newBuffer(t, 1000)
	sink := &collectSink{}

	var yielded []uint64
	d, err := dispatch.New(buf, sink, dispatch.Config{
		ProcessingCadence: 100,
		ControlCadence:    200,
	}, func(counter uint64) {
		yielded = append(yielded, counter)
	})
	require.NoError(t, err)

	d.Start()

	for index := uint64(0); index < 1000; index++ {
		w, err := buf.Write(index)
		require.NoError(t, err)
		buf.Commit(w)
		d.Tick(index + 1)

		// Wait out each dispatch point so the sink keeps pace; the cadence
		// under test is the tick arithmetic, not sink throughput.
		if (index+1)%100 == 0 {
			expect := int(index+1) / 100
			require.Eventually(t, func() bool {
				return len(sink.indices()) == expect
			}, 5*time.Second, time.Millisecond)
		}
	}

	d.Stop()

	// Dispatch points at counters 100, 200, ..., 1000 each deliver the frame
	// committed just before: indices 99, 199, ..., 999.
	want := []uint64{99, 199, 299, 399, 499, 599, 699, 799, 899, 999}
	assert.Equal(t, want, sink.indices())

	assert.Equal(t, []uint64{200, 400, 600, 800, 1000}, yielded)

	stats := d.Stats()
	assert.Equal(t, uint64(10), stats.Dispatches)
	assert.Equal(t, uint64(5), stats.Yields)
	assert.Zero(t, stats.Skips)
	assert.Zero(t, stats.Drops)
}

func TestBusySinkSkipPolicy(t *testing.T) {
	buf := newBuffer(t, 8)
	sink := newGateSink()

	d, err := dispatch.New(buf, sink, dispatch.Config{
		ProcessingCadence: 1,
		ControlCadence:    1000,
		Policy:            dispatch.PolicySkip,
	}, nil)
	require.NoError(t, err)

	d.Start()

	// First dispatch reaches the sink and blocks there.
	w, err := buf.Write(0)
	require.NoError(t, err)
	buf.Commit(w)
	d.Tick(1)
	<-sink.entered

	// Second dispatch parks in the mailbox.
	w, err = buf.Write(1)
	require.NoError(t, err)
	buf.Commit(w)
	d.Tick(2)

	// Third dispatch finds the mailbox occupied and is skipped.
	w, err = buf.Write(2)
	require.NoError(t, err)
	buf.Commit(w)
	d.Tick(3)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Dispatches)
	assert.Equal(t, uint64(1), stats.Skips)
	assert.Zero(t, stats.Drops)

	close(sink.release)
	d.Stop()

	// The mailbox frame (index 1) still reaches the sink; the skipped
	// dispatch point never produced one.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.frames, 2)
	assert.Equal(t, uint64(0), sink.frames[0].Index)
	assert.Equal(t, uint64(1), sink.frames[1].Index)
}

func TestBusySinkReplacePolicy(t *testing.T) {
	buf := newBuffer(t, 8)
	sink := newGateSink()

	d, err := dispatch.New(buf, sink, dispatch.Config{
		ProcessingCadence: 1,
		ControlCadence:    1000,
		Policy:            dispatch.PolicyReplace,
	}, nil)
	require.NoError(t, err)

	d.Start()

	w, err := buf.Write(0)
	require.NoError(t, err)
	buf.Commit(w)
	d.Tick(1)
	<-sink.entered

	w, err = buf.Write(1)
	require.NoError(t, err)
	buf.Commit(w)
	d.Tick(2)

	// Strict cadence: the unconsumed frame 1 is dropped for frame 2.
	w, err = buf.Write(2)
	require.NoError(t, err)
	buf.Commit(w)
	d.Tick(3)

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.Dispatches)
	assert.Equal(t, uint64(1), stats.Drops)
	assert.Zero(t, stats.Skips)

	close(sink.release)
	d.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.frames, 2)
	assert.Equal(t, uint64(0), sink.frames[0].Index)
	assert.Equal(t, uint64(2), sink.frames[1].Index, "newer frame must win under replace policy")
}

func TestDispatchWithEmptyBuffer(t *testing.T) {
	buf := newBuffer(t, 4)
	sink := &collectSink{}

	d, err := dispatch.New(buf, sink, dispatch.Config{ProcessingCadence: 1, ControlCadence: 1}, nil)
	require.NoError(t, err)

	d.Start()
	d.Tick(1)
	d.Stop()

	assert.Empty(t, sink.indices())
	assert.Zero(t, d.Stats().Dispatches)
}

func TestStopDropsPendingFrame(t *testing.T) {
	buf := newBuffer(t, 4)
	sink := newGateSink()

	d, err := dispatch.New(buf, sink, dispatch.Config{ProcessingCadence: 1, ControlCadence: 1000}, nil)
	require.NoError(t, err)

	d.Start()

	w, err := buf.Write(0)
	require.NoError(t, err)
	buf.Commit(w)
	d.Tick(1)
	<-sink.entered

	w, err = buf.Write(1)
	require.NoError(t, err)
	buf.Commit(w)
	d.Tick(2)

	// Release the sink and stop; whichever frame is still in the mailbox at
	// shutdown is counted, never silently lost.
	close(sink.release)
	d.Stop()

	sink.mu.Lock()
	delivered := uint64(len(sink.frames))
	sink.mu.Unlock()

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Dispatches)
	assert.Equal(t, stats.Dispatches, delivered+stats.Drops)
}
