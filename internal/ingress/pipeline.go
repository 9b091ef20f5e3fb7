package ingress

import (
	"fmt"
	"log/slog"

	"github.com/voicemesh/client/internal/codec"
	"github.com/voicemesh/client/internal/crypto"
	"github.com/voicemesh/client/internal/jitter"
	"github.com/voicemesh/client/internal/metrics"
	"github.com/voicemesh/client/internal/wire"
)

// Channel is the ingress pipeline's view of a destination channel: a
// decoder to feed and a jitter queue to enqueue into. session.Channel
// implements this; ingress never imports session, avoiding a cycle.
type Channel interface {
	ID() string
	Decoder() *codec.Decoder
	Enqueue(jitter.Frame)
	Touch()
	RecordDropped()
	QueueLen() int
	Overflow() uint64
}

// Lookup resolves a channel id to its Channel, or false if the
// channel is not currently active (section 4.4 step 2: unknown
// channel ids are discarded).
type Lookup func(channelID string) (Channel, bool)

// Pipeline implements the full decode chain for one session's
// inbound datagrams. It holds no per-channel state itself.
type Pipeline struct {
	box     *crypto.Box
	lookup  Lookup
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPipeline builds an ingress pipeline against a shared crypto box
// and a channel lookup function.
func NewPipeline(box *crypto.Box, lookup Lookup, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{box: box, lookup: lookup, metrics: m, logger: logger}
}

// HandleDatagram implements section 4.4 steps 1-7 for a single raw
// datagram. It never returns an error to the caller: every failure
// mode is counted and the datagram is silently discarded, per section
// 7's requirement that the receive path tolerate arbitrary garbage.
func (p *Pipeline) HandleDatagram(raw []byte) {
	p.metrics.RecordDatagramReceived()

	frame, err := wire.ParseDatagram(raw)
	if err != nil {
		p.metrics.RecordParseError()
		p.logger.Debug("ingress: discarding malformed datagram", slog.String("error", err.Error()))
		return
	}

	ch, ok := p.lookup(frame.ChannelID)
	if !ok {
		p.logger.Debug("ingress: discarding datagram for unknown channel",
			slog.String("channel_id", frame.ChannelID))
		return
	}

	plaintext, err := p.box.Decrypt(frame.Ciphertext)
	if err != nil {
		p.metrics.RecordDecryptFailure()
		ch.RecordDropped()
		p.logger.Debug("ingress: discarding datagram, decrypt failed",
			slog.String("channel_id", frame.ChannelID))
		return
	}

	samples, err := p.decode(ch, plaintext)
	if err != nil {
		p.metrics.RecordDecodeFailure()
		ch.RecordDropped()
		p.logger.Debug("ingress: discarding datagram, decode failed",
			slog.String("channel_id", frame.ChannelID), slog.String("error", err.Error()))
		return
	}
	if len(samples) == 0 {
		p.metrics.RecordDecodeFailure()
		ch.RecordDropped()
		return
	}

	beforeOverflow := ch.Overflow()
	ch.Enqueue(jitter.Frame{Samples: samples, Count: len(samples)})
	ch.Touch()

	p.metrics.SetQueueDepth(ch.ID(), ch.QueueLen())
	if ch.Overflow() > beforeOverflow {
		p.metrics.RecordQueueOverflow(ch.ID())
	}
}

// decode runs the per-channel decoder, recovering from any panic the
// underlying codec might raise on malformed compressed data (the
// decoder itself already recovers internally; this is a second,
// cheap backstop specific to the ingress call site).
func (p *Pipeline) decode(ch Channel, packet []byte) (samples []int16, err error) {
	defer func() {
		if r := recover(); r != nil {
			samples, err = nil, fmt.Errorf("ingress: decode panic: %v", r)
		}
	}()
	return ch.Decoder().Decode(packet)
}
