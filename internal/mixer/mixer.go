package mixer

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/voicemesh/client/internal/jitter"
	"github.com/voicemesh/client/internal/metrics"
)

// Constants from section 4.3.
const (
	SampleRate          = 48000
	MixerFrameSamples   = 1920 // 40ms mono
	OutputFrameShorts   = 3840 // interleaved stereo
	DecoderMaxSamples   = 4800 // 100ms mono
	DefaultGateFrames   = 5
	FadeSamples         = 64
	DefaultMaxQueue     = 20
	int16Max            = math.MaxInt16
	idleSleep           = 5 * time.Millisecond
	observabilityPeriod = 50
)

// Source is the mixer's view of one channel: enough to gate, drain its
// jitter queue, and route it through volume/pan. Session's Channel type
// implements this; the mixer package never imports session, avoiding a
// cycle, per the "dynamic map of channels" design note.
type Source interface {
	ID() string
	Volume() float32
	Pan() Pan
	Dequeue() (jitter.Frame, bool)
	QueueLen() int
}

// Sink is the single stereo output device. Its blocking Write is the
// mixer's clock (section 4.3, 5): no explicit timer paces the cycle.
type Sink interface {
	Write(frame []int16) error
}

// Config holds the tunables section 6 enumerates as configuration.
type Config struct {
	GateFrames  int // JITTER_GATE_FRAMES, default 5, also acceptable 3
	FadeSamples int // FADE_SAMPLES, default 64
}

// channelState is mixer-private per-channel scratch: gate, accumulation
// buffer, fade bookkeeping. Nothing outside the mixer goroutine touches
// it, so it needs no synchronization (section 5).
type channelState struct {
	gateOpen   bool
	hadData    bool
	lastSample int16
	accum      []int16
	accumCount int
	underflows uint64
}

// Engine runs the mixer loop on a single goroutine. It does not raise
// the goroutine's or its OS thread's scheduling priority.
type Engine struct {
	sink     Sink
	snapshot func() []Source
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu     sync.Mutex // guards states map against concurrent Stats() reads
	states map[string]*channelState

	cycle   uint64
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEngine builds a mixer engine. snapshot must return the current set
// of active channels; the slice it returns is treated as immutable for
// the duration of one cycle (the "snapshot of channel ids" in section 5).
func NewEngine(sink Sink, snapshot func() []Source, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if cfg.GateFrames <= 0 {
		cfg.GateFrames = DefaultGateFrames
	}
	if cfg.FadeSamples <= 0 {
		cfg.FadeSamples = FadeSamples
	}
	return &Engine{
		sink:     sink,
		snapshot: snapshot,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		states:   make(map[string]*channelState),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run executes the mixer loop until Stop is called. It returns after at
// most one more output write, per the teardown contract in section 5.
func (e *Engine) Run() {
	defer close(e.doneCh)

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		if !e.runCycle() {
			select {
			case <-e.stopCh:
				return
			case <-time.After(idleSleep):
			}
		}
	}
}

// Stop signals the loop to exit and waits for it to finish.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// runCycle executes one mixer cycle. It returns true if it wrote a
// frame to the sink, false if the cycle was idle (no contributors).
func (e *Engine) runCycle() bool {
	e.cycle++
	sources := e.snapshot()

	accumulator := make([]int32, OutputFrameShorts)
	activeCount := 0
	liveIDs := make(map[string]struct{}, len(sources))

	for _, src := range sources {
		liveIDs[src.ID()] = struct{}{}
		st := e.stateFor(src.ID())

		if e.mixChannel(src, st, accumulator) {
			activeCount++
		}
	}

	e.pruneStaleStates(liveIDs)

	if activeCount == 0 {
		return false
	}

	peak, scaled := applyPeakLimiter(accumulator)
	out := toInt16Frame(accumulator)

	if err := e.sink.Write(out); err != nil {
		e.logger.Error("mixer: output sink write failed, continuing",
			slog.String("error", err.Error()))
	}

	if e.cycle%observabilityPeriod == 0 {
		e.logObservability(activeCount, peak, scaled, sources)
	}
	if e.metrics != nil {
		e.metrics.SetMixerActiveChannels(activeCount)
		e.metrics.SetMixerPeak(float64(peak))
		e.metrics.RecordMixerCycle(scaled)
	}

	return true
}

// stateFor returns (creating if necessary) the mixer-private state for
// a channel. Buffering is generous: up to two maximum-size decoded
// frames' worth of samples per the accumulation buffer invariant.
func (e *Engine) stateFor(id string) *channelState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[id]
	if !ok {
		st = &channelState{accum: make([]int16, 0, 2*DecoderMaxSamples)}
		e.states[id] = st
	}
	return st
}

// pruneStaleStates drops mixer-private state for channels no longer in
// the live snapshot (removed via session.remove_channel).
func (e *Engine) pruneStaleStates(live map[string]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id := range e.states {
		if _, ok := live[id]; !ok {
			delete(e.states, id)
		}
	}
}

// mixChannel implements steps 1-3 of section 4.3 for a single channel.
// It returns true if this channel contributed audio (a full frame or a
// fade-out) this cycle.
func (e *Engine) mixChannel(src Source, st *channelState, accumulator []int32) bool {
	// Step 1: gate check. Once open, never closes (invariant 4).
	if !st.gateOpen {
		if src.QueueLen() < e.cfg.GateFrames {
			return false
		}
		st.gateOpen = true
	}

	// Step 2: accumulate until we have a full mixer frame or the queue
	// runs dry.
	for st.accumCount < MixerFrameSamples {
		frame, ok := src.Dequeue()
		if !ok {
			break
		}
		st.accum = append(st.accum[:st.accumCount], frame.Samples[:frame.Count]...)
		st.accumCount += frame.Count
	}

	volume := src.Volume()
	pan := src.Pan()

	// Step 3: mix-or-skip.
	if st.accumCount >= MixerFrameSamples {
		fadeIn := !st.hadData
		for i := 0; i < MixerFrameSamples; i++ {
			sample := float32(st.accum[i]) * volume
			if fadeIn && i < e.cfg.FadeSamples {
				sample *= float32(i) / float32(e.cfg.FadeSamples)
			}
			routeSample(accumulator, i, int32(sample), pan)
		}

		st.lastSample = int16(clampFloat(float32(st.accum[MixerFrameSamples-1]) * volume))
		residual := st.accumCount - MixerFrameSamples
		copy(st.accum, st.accum[MixerFrameSamples:st.accumCount])
		st.accum = st.accum[:residual]
		st.accumCount = residual
		st.hadData = true
		return true
	}

	if st.hadData && st.lastSample != 0 {
		for i := 0; i < e.cfg.FadeSamples; i++ {
			factor := 1.0 - float32(i)/float32(e.cfg.FadeSamples)
			sample := int32(float32(st.lastSample) * factor)
			routeSample(accumulator, i, sample, pan)
		}
		st.hadData = false
		st.lastSample = 0
		st.underflows++
		if e.metrics != nil {
			e.metrics.RecordUnderflow(src.ID())
		}
		e.logger.Debug("mixer: channel underflow, emitting fade-out",
			slog.String("channel_id", src.ID()),
			slog.Uint64("cumulative_underflows", st.underflows),
			slog.Int("accum_count", st.accumCount))
		return true
	}

	return false
}

// routeSample adds a mono sample into the interleaved stereo
// accumulator according to pan: LEFT writes only the even (left)
// slot, RIGHT only the odd (right) slot, CENTER writes both.
func routeSample(accumulator []int32, frameIdx int, sample int32, pan Pan) {
	left := frameIdx * 2
	right := left + 1

	switch pan {
	case Left:
		accumulator[left] += sample
	case Right:
		accumulator[right] += sample
	default:
		accumulator[left] += sample
		accumulator[right] += sample
	}
}

// applyPeakLimiter scans the whole-frame accumulator for the absolute
// peak and, if it exceeds INT16_MAX, uniformly scales every sample so
// the waveform shape is preserved rather than hard-clipped per sample
// (section 4.3 step 5). Returns the pre-scaling peak and whether
// scaling was applied.
func applyPeakLimiter(accumulator []int32) (peak int32, scaled bool) {
	for _, v := range accumulator {
		abs := v
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}
	}

	if peak <= int16Max {
		return peak, false
	}

	ratio := float64(int16Max) / float64(peak)
	for i, v := range accumulator {
		accumulator[i] = int32(float64(v) * ratio)
	}
	return peak, true
}

// toInt16Frame converts the (already peak-limited) accumulator to the
// emitted 16-bit frame.
func toInt16Frame(accumulator []int32) []int16 {
	out := make([]int16, len(accumulator))
	for i, v := range accumulator {
		out[i] = int16(clampFloat(float32(v)))
	}
	return out
}

func clampFloat(v float32) float32 {
	if v > int16Max {
		return int16Max
	}
	if v < -int16Max-1 {
		return -int16Max - 1
	}
	return v
}

func (e *Engine) logObservability(activeCount int, peak int32, scaled bool, sources []Source) {
	attrs := []any{
		slog.Uint64("cycle", e.cycle),
		slog.Int("active_channels", activeCount),
		slog.Int("samples_written", OutputFrameShorts),
		slog.Int64("peak", int64(peak)),
		slog.Bool("peak_scaled", scaled),
		slog.Uint64("cumulative_underflows", e.totalUnderflows()),
	}
	for _, src := range sources {
		attrs = append(attrs, slog.Int("queue_"+src.ID(), src.QueueLen()))
	}
	e.logger.Info("mixer: cycle summary", attrs...)
}

// totalUnderflows sums cumulative underflow counts across every
// channel the mixer currently tracks state for (section 4.3
// "Observability": the every-50th-cycle summary includes this total).
func (e *Engine) totalUnderflows() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total uint64
	for _, st := range e.states {
		total += st.underflows
	}
	return total
}

// Underflows returns the cumulative underflow count for a channel, 0 if
// the channel has no mixer state (never gated open).
func (e *Engine) Underflows(id string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[id]; ok {
		return st.underflows
	}
	return 0
}

// GateOpen reports whether a channel's gate has latched open.
func (e *Engine) GateOpen(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[id]; ok {
		return st.gateOpen
	}
	return false
}
