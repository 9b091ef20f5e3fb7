package mixer

import (
	"log/slog"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voicemesh/client/internal/jitter"
	"github.com/voicemesh/client/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource is a minimal Source backed by a real jitter.Queue, letting
// tests drive gate/underflow behavior with realistic FIFO semantics.
type fakeSource struct {
	id     string
	volume float32
	pan    Pan
	q      *jitter.Queue
}

func newFakeSource(id string, pan Pan) *fakeSource {
	return &fakeSource{id: id, volume: 1.0, pan: pan, q: jitter.NewQueue(DefaultMaxQueue)}
}

func (f *fakeSource) ID() string     { return f.id }
func (f *fakeSource) Volume() float32 { return f.volume }
func (f *fakeSource) Pan() Pan         { return f.pan }
func (f *fakeSource) QueueLen() int    { return f.q.Len() }
func (f *fakeSource) Dequeue() (jitter.Frame, bool) { return f.q.Pop() }

func (f *fakeSource) pushSilence(n int) {
	f.q.Push(jitter.Frame{Samples: make([]int16, n), Count: n})
}

func (f *fakeSource) pushConstant(n int, v int16) {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	f.q.Push(jitter.Frame{Samples: samples, Count: n})
}

// fakeSink records every frame written to it.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]int16
}

func (s *fakeSink) Write(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]int16, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) last() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func newTestEngine(sources ...*fakeSource) (*Engine, *fakeSink) {
	sink := &fakeSink{}
	snapshot := func() []Source {
		out := make([]Source, len(sources))
		for i, s := range sources {
			out[i] = s
		}
		return out
	}
	e := NewEngine(sink, snapshot, Config{GateFrames: DefaultGateFrames}, metrics.NewMetrics(), discardLogger())
	return e, sink
}

func TestGateStaysClosedBelowThreshold(t *testing.T) {
	src := newFakeSource("a", Center)
	for i := 0; i < DefaultGateFrames-1; i++ {
		src.pushSilence(400)
	}
	e, sink := newTestEngine(src)

	wrote := e.runCycle()
	require.False(t, wrote)
	require.Equal(t, 0, sink.count())
	require.False(t, e.GateOpen("a"))
}

func TestGateOpensAtThresholdAndNeverRecloses(t *testing.T) {
	src := newFakeSource("a", Center)
	for i := 0; i < DefaultGateFrames; i++ {
		src.pushConstant(400, 100)
	}
	e, sink := newTestEngine(src)

	wrote := e.runCycle()
	require.True(t, wrote)
	require.True(t, e.GateOpen("a"))
	require.Equal(t, 1, sink.count())

	// queue now drained below gate threshold; gate must stay open and
	// instead surface as an underflow fade-out, not re-gating silence.
	wrote = e.runCycle()
	require.True(t, e.GateOpen("a"))
	_ = wrote
}

func TestSingleChannelCenterPanDuplicatesToBothOutputs(t *testing.T) {
	src := newFakeSource("a", Center)
	for i := 0; i < DefaultGateFrames; i++ {
		src.pushConstant(MixerFrameSamples, 1000)
	}
	e, sink := newTestEngine(src)
	require.True(t, e.runCycle())

	out := sink.last()
	require.Len(t, out, OutputFrameShorts)
	// Past the fade-in ramp, left and right must be equal (center pan).
	mid := MixerFrameSamples - 1
	require.Equal(t, out[mid*2], out[mid*2+1])
}

func TestLeftPanOnlyWritesLeftChannel(t *testing.T) {
	src := newFakeSource("a", Left)
	for i := 0; i < DefaultGateFrames; i++ {
		src.pushConstant(MixerFrameSamples, 1000)
	}
	e, sink := newTestEngine(src)
	require.True(t, e.runCycle())

	out := sink.last()
	mid := MixerFrameSamples - 1
	require.NotZero(t, out[mid*2])
	require.Zero(t, out[mid*2+1])
}

func TestUnderflowEmitsFadeOutNotSilence(t *testing.T) {
	src := newFakeSource("a", Center)
	// Five frames whose sample counts sum to exactly one mixer frame, so
	// the first cycle drains the queue completely with zero residual.
	for i := 0; i < DefaultGateFrames; i++ {
		src.pushConstant(MixerFrameSamples/DefaultGateFrames, 5000)
	}
	e, sink := newTestEngine(src)
	require.True(t, e.runCycle()) // consumes the queued frames, hadData=true

	// Next cycle: queue empty, must fade out rather than jump to zero.
	wrote := e.runCycle()
	require.True(t, wrote)
	out := sink.last()
	require.NotZero(t, out[0])
	require.Equal(t, uint64(1), e.Underflows("a"))

	// Third cycle: fade already completed, nothing left to emit.
	wrote = e.runCycle()
	require.False(t, wrote)
}

func TestPeakLimiterScalesUniformlyWhenClipping(t *testing.T) {
	a := newFakeSource("a", Center)
	b := newFakeSource("b", Center)
	for i := 0; i < DefaultGateFrames; i++ {
		a.pushConstant(MixerFrameSamples, 30000)
		b.pushConstant(MixerFrameSamples, 30000)
	}
	e, sink := newTestEngine(a, b)
	require.True(t, e.runCycle())

	out := sink.last()
	for _, v := range out {
		require.LessOrEqual(t, int(v), int16Max)
		require.GreaterOrEqual(t, int(v), -int16Max-1)
	}
}

func TestMultiChannelIndependentPan(t *testing.T) {
	left := newFakeSource("l", Left)
	right := newFakeSource("r", Right)
	for i := 0; i < DefaultGateFrames; i++ {
		left.pushConstant(MixerFrameSamples, 2000)
		right.pushConstant(MixerFrameSamples, 2000)
	}
	e, sink := newTestEngine(left, right)
	require.True(t, e.runCycle())

	out := sink.last()
	mid := MixerFrameSamples - 1
	require.NotZero(t, out[mid*2])
	require.NotZero(t, out[mid*2+1])
}

func TestStaleChannelStateIsPruned(t *testing.T) {
	src := newFakeSource("a", Center)
	for i := 0; i < DefaultGateFrames; i++ {
		src.pushConstant(400, 10)
	}
	e, _ := newTestEngine(src)
	e.runCycle()
	require.True(t, e.GateOpen("a"))

	e2, _ := newTestEngine() // empty snapshot: "a" no longer live
	e2.states = e.states
	e2.runCycle()
	require.False(t, e2.GateOpen("a"))
}

func TestIdleCycleWithNoSourcesWritesNothing(t *testing.T) {
	e, sink := newTestEngine()
	wrote := e.runCycle()
	require.False(t, wrote)
	require.Equal(t, 0, sink.count())
}
