package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voicemesh/client/internal/codec"
	"github.com/voicemesh/client/internal/config"
	"github.com/voicemesh/client/internal/crypto"
	"github.com/voicemesh/client/internal/egress"
	"github.com/voicemesh/client/internal/ingress"
	"github.com/voicemesh/client/internal/metrics"
	"github.com/voicemesh/client/internal/mixer"
	"github.com/voicemesh/client/internal/sink"
	"github.com/voicemesh/client/internal/wire"
)

// ErrUnknownChannel is returned by channel operations on an id that
// has not been added, or has already been removed.
var ErrUnknownChannel = errors.New("session: unknown channel")

// ErrAlreadyTransmitting is returned by BeginTransmit while another
// transmit stream is active (section 4.5: "Only one transmit stream
// is active at a time").
var ErrAlreadyTransmitting = errors.New("session: transmit already in progress")

// ErrNotTransmitting is returned by EndTransmit when no transmit
// stream is active.
var ErrNotTransmitting = errors.New("session: not transmitting")

const receiveBufferSize = wire.MaxDatagramSize

// Session owns the datagram socket, the active channel set, and the
// mixer/receiver/transmitter/keep-alive goroutines (section 3,
// "Session"). It is the sole owner of these resources for its
// lifetime.
type Session struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	box     *crypto.Box

	conn     *net.UDPConn
	destAddr *net.UDPAddr

	// channels is an immutable snapshot, atomically swapped on every
	// add/remove (section 9, "Dynamic map of channels"). channelsMu
	// serializes the read-copy-modify-store sequence across
	// concurrent control calls; readers never take it.
	channels   atomic.Pointer[map[string]*Channel]
	channelsMu sync.Mutex

	output  *sink.Output
	engine  *mixer.Engine
	ingress *ingress.Pipeline

	keepAlive *egress.KeepAlive

	txMu        sync.Mutex
	transmitter *egress.Transmitter
	capture     *sink.Capture

	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
}

// New constructs a Session. The crypto key, mixer tunables, and
// destination come from cfg (section 6, "Configuration enumerated").
// The session owns the key via an injected *crypto.Box rather than a
// process-global constant (section 9, "Global/process-wide state").
func New(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*Session, error) {
	key, err := cfg.Network.DecodedKey()
	if err != nil {
		return nil, fmt.Errorf("session: decode key: %w", err)
	}
	box, err := crypto.NewBox(key)
	if err != nil {
		return nil, fmt.Errorf("session: crypto init failed: %w", err)
	}

	empty := make(map[string]*Channel)
	s := &Session{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		box:     box,
	}
	s.channels.Store(&empty)
	return s, nil
}

// Start opens the socket, starts the receiver and mixer threads, and
// the keep-alive task (section 6, "session.start"). Crypto init
// failure is fatal and handled in New; all other failures here
// surface to the caller without partially starting the session.
func (s *Session) Start() error {
	if s.running.Load() {
		return errors.New("session: already started")
	}

	destAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.cfg.Network.DestHost, s.cfg.Network.DestPort))
	if err != nil {
		return fmt.Errorf("session: resolve destination: %w", err)
	}
	s.destAddr = destAddr

	conn, err := net.ListenUDP("udp", mustResolveListen(s.cfg.Network.ListenAddress))
	if err != nil {
		return fmt.Errorf("session: listen udp: %w", err)
	}
	s.conn = conn

	output, err := sink.OpenOutput(s.cfg.Device.OutputDevice, float64(s.cfg.Mixer.SampleRate), s.cfg.Mixer.MixerFrameSamples)
	if err != nil {
		conn.Close()
		return fmt.Errorf("session: open output device: %w", err)
	}
	s.output = output

	s.engine = mixer.NewEngine(output, s.channelSources, mixer.Config{
		GateFrames:  s.cfg.Mixer.JitterGateFrames,
		FadeSamples: s.cfg.Mixer.FadeSamples,
	}, s.metrics, s.logger)
	s.ingress = ingress.NewPipeline(s.box, s.lookupIngressChannel, s.metrics, s.logger)
	s.keepAlive = egress.NewKeepAlive(s.senderAdapter(), s.cfg.Network.KeepAliveInterval(), s.isTransmitting, s.metrics, s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	g, _ := errgroup.WithContext(ctx)
	s.g = g

	g.Go(func() error {
		s.receiveLoop()
		return nil
	})
	g.Go(func() error {
		s.engine.Run()
		return nil
	})
	g.Go(func() error {
		s.keepAlive.Run()
		return nil
	})

	s.running.Store(true)
	s.logger.Info("session: started",
		slog.String("listen_address", s.cfg.Network.ListenAddress),
		slog.String("dest", destAddr.String()))
	return nil
}

func mustResolveListen(addr string) *net.UDPAddr {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &net.UDPAddr{Port: 0}
	}
	return resolved
}

// Stop tears down all threads and resources in the deterministic
// order of section 5: transmitter -> receiver -> mixer -> sink ->
// socket -> per-channel decoders.
func (s *Session) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.isTransmitting() {
		_ = s.EndTransmit()
	}

	s.cancel()
	if s.conn != nil {
		// An immediate read deadline wakes the blocked receiver; the
		// socket itself is closed after the sink below.
		_ = s.conn.SetReadDeadline(time.Now())
	}
	s.keepAlive.Stop()
	s.engine.Stop()
	if s.output != nil {
		if err := s.output.Close(); err != nil {
			s.logger.Warn("session: error closing output device", slog.String("error", err.Error()))
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}

	_ = s.g.Wait()

	snapshot := *s.channels.Load()
	for _, ch := range snapshot {
		if err := ch.close(); err != nil {
			s.logger.Warn("session: error closing channel decoder",
				slog.String("channel_id", ch.ID()), slog.String("error", err.Error()))
		}
	}

	s.logger.Info("session: stopped")
	return nil
}

// receiveLoop is the single receiver thread (section 5): a blocking
// datagram read loop on the shared socket. It never blocks the mixer.
func (s *Session) receiveLoop() {
	buf := make([]byte, receiveBufferSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("session: receive error", slog.String("error", err.Error()))
				continue
			}
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.ingress.HandleDatagram(datagram)
	}
}

// channelSources is the mixer's snapshot function: it returns the
// live channel set as of the call, defining the contributors for one
// mixer cycle (section 5).
func (s *Session) channelSources() []mixer.Source {
	snapshot := *s.channels.Load()
	out := make([]mixer.Source, 0, len(snapshot))
	for _, ch := range snapshot {
		out = append(out, ch)
	}
	return out
}

// lookupIngressChannel is the ingress pipeline's channel lookup.
func (s *Session) lookupIngressChannel(id string) (ingress.Channel, bool) {
	snapshot := *s.channels.Load()
	ch, ok := snapshot[id]
	if !ok {
		return nil, false
	}
	return ch, true
}

// AddChannel creates channel runtime state and decoder; gate closed
// (section 4.6, Absent -> Buffering).
func (s *Session) AddChannel(id string, volume float32, pan mixer.Pan) error {
	ch, err := newChannel(id, s.cfg.Mixer.MaxQueueFrames, volume, pan)
	if err != nil {
		return fmt.Errorf("session: add_channel %q: %w", id, err)
	}

	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()

	current := *s.channels.Load()
	next := make(map[string]*Channel, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[id] = ch
	s.channels.Store(&next)

	s.metrics.RecordChannelCreated()
	s.metrics.SetActiveChannels(len(next))
	s.logger.Info("session: channel added", slog.String("channel_id", id))
	return nil
}

// RemoveChannel drains the queue, closes the decoder, removes state
// (section 4.6, Streaming/Buffering -> remove_channel -> Absent).
func (s *Session) RemoveChannel(id string) error {
	s.channelsMu.Lock()
	current := *s.channels.Load()
	ch, ok := current[id]
	if !ok {
		s.channelsMu.Unlock()
		return ErrUnknownChannel
	}

	next := make(map[string]*Channel, len(current))
	for k, v := range current {
		if k != id {
			next[k] = v
		}
	}
	s.channels.Store(&next)
	s.channelsMu.Unlock()

	if err := ch.close(); err != nil {
		s.logger.Warn("session: error closing removed channel", slog.String("channel_id", id), slog.String("error", err.Error()))
	}

	s.metrics.RecordChannelRemoved()
	s.metrics.SetActiveChannels(len(next))
	s.logger.Info("session: channel removed", slog.String("channel_id", id))
	return nil
}

// SetVolume clamps to [0,1]; takes effect by next mixer cycle.
func (s *Session) SetVolume(id string, v float32) error {
	ch, ok := s.channel(id)
	if !ok {
		return ErrUnknownChannel
	}
	ch.SetVolume(v)
	return nil
}

// SetPan takes effect by next mixer cycle.
func (s *Session) SetPan(id string, pan mixer.Pan) error {
	ch, ok := s.channel(id)
	if !ok {
		return ErrUnknownChannel
	}
	ch.SetPan(pan)
	return nil
}

// Stats returns packets received, dropped, queue size, underflows,
// last activity for one channel (section 6).
func (s *Session) Stats(id string) (Stats, error) {
	ch, ok := s.channel(id)
	if !ok {
		return Stats{}, ErrUnknownChannel
	}
	st := Stats{
		ChannelID:       ch.ID(),
		PacketsReceived: ch.packetsReceived.Load(),
		PacketsDropped:  ch.packetsDropped.Load(),
		QueueSize:       ch.QueueLen(),
		QueueOverflows:  ch.queue.Overflow(),
		Volume:          ch.Volume(),
		Pan:             ch.Pan().String(),
		LastActivity:    ch.LastActivity(),
	}
	// engine is nil until Start runs the mixer; underflow/gate state
	// before that point is simply "no mixing has happened yet".
	if s.engine != nil {
		st.Underflows = s.engine.Underflows(ch.ID())
		st.GateOpen = s.engine.GateOpen(ch.ID())
	}
	return st, nil
}

// ListChannels returns the ids of every currently active channel.
func (s *Session) ListChannels() []string {
	snapshot := *s.channels.Load()
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) channel(id string) (*Channel, bool) {
	snapshot := *s.channels.Load()
	ch, ok := snapshot[id]
	return ch, ok
}

// BeginTransmit starts capture + encode + send loop for channelID
// (section 4.5).
func (s *Session) BeginTransmit(channelID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if s.transmitter != nil {
		return ErrAlreadyTransmitting
	}

	capture, err := sink.OpenCapture(s.cfg.Device.InputDevice, float64(s.cfg.Mixer.SampleRate), s.cfg.Mixer.MixerFrameSamples)
	if err != nil {
		return fmt.Errorf("session: open capture device: %w", err)
	}

	encoder, err := codec.NewEncoder(s.cfg.Mixer.MixerFrameSamples)
	if err != nil {
		capture.Close()
		return fmt.Errorf("session: new encoder: %w", err)
	}

	tx := egress.NewTransmitter(channelID, capture, encoder, s.box, s.senderAdapter(), s.metrics, s.logger)
	s.transmitter = tx
	s.capture = capture

	go tx.Run()

	s.logger.Info("session: transmit started", slog.String("channel_id", channelID))
	return nil
}

// EndTransmit stops and releases the encoder (section 4.5).
func (s *Session) EndTransmit() error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if s.transmitter == nil {
		return ErrNotTransmitting
	}

	s.transmitter.Stop()
	if err := s.capture.Close(); err != nil {
		s.logger.Warn("session: error closing capture device", slog.String("error", err.Error()))
	}
	s.transmitter = nil
	s.capture = nil

	s.logger.Info("session: transmit stopped")
	return nil
}

func (s *Session) isTransmitting() bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.transmitter != nil
}

// senderAdapter wraps the session's shared socket as an egress.Sender.
func (s *Session) senderAdapter() egress.Sender {
	return senderFunc(func(data []byte) error {
		_, err := s.conn.WriteToUDP(data, s.destAddr)
		return err
	})
}

type senderFunc func(data []byte) error

func (f senderFunc) Send(data []byte) error { return f(data) }
