package session

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/voicemesh/client/internal/codec"
	"github.com/voicemesh/client/internal/jitter"
	"github.com/voicemesh/client/internal/mixer"
)

// Channel is the runtime state of one active stream (section 3,
// "Channel runtime state"). It implements both mixer.Source and
// ingress.Channel so the mixer and the ingress pipeline can drive it
// without session importing either of their concrete types back.
type Channel struct {
	id      string
	decoder *codec.Decoder
	queue   *jitter.Queue

	volume atomic.Uint32 // math.Float32bits, clamped to [0,1] on Set
	pan    atomic.Uint32 // mixer.Pan

	lastActivity atomic.Int64 // unix nanos

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64 // decrypt/decode failures attributed to this channel
}

// newChannel creates Absent -> Buffering channel state (section 4.6):
// gate closed, empty queue, decoder created.
func newChannel(id string, maxQueueFrames int, volume float32, pan mixer.Pan) (*Channel, error) {
	dec, err := codec.NewDecoder()
	if err != nil {
		return nil, err
	}

	ch := &Channel{
		id:      id,
		decoder: dec,
		queue:   jitter.NewQueue(maxQueueFrames),
	}
	ch.SetVolume(volume)
	ch.SetPan(pan)
	ch.lastActivity.Store(time.Now().UnixNano())
	return ch, nil
}

// ID returns the channel's identifier.
func (c *Channel) ID() string { return c.id }

// Volume returns the current gain in [0.0, 1.0].
func (c *Channel) Volume() float32 {
	return math.Float32frombits(c.volume.Load())
}

// SetVolume clamps v to [0.0, 1.0] and stores it atomically; it takes
// effect on the mixer's next cycle (section 4.7).
func (c *Channel) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.volume.Store(math.Float32bits(v))
}

// Pan returns the current stereo routing.
func (c *Channel) Pan() mixer.Pan {
	return mixer.Pan(c.pan.Load())
}

// SetPan stores the channel's stereo routing atomically; it takes
// effect on the mixer's next cycle (section 4.7).
func (c *Channel) SetPan(p mixer.Pan) {
	c.pan.Store(uint32(p))
}

// Decoder returns the channel's per-stream Opus decoder, created
// at add_channel time and reused for the channel's lifetime.
func (c *Channel) Decoder() *codec.Decoder { return c.decoder }

// Enqueue pushes a decoded frame into the channel's jitter queue,
// dropping the oldest frame on overflow (section 4.4 step 6).
func (c *Channel) Enqueue(f jitter.Frame) {
	c.queue.Push(f)
	c.packetsReceived.Add(1)
}

// Dequeue removes the oldest queued frame, if any, for the mixer.
func (c *Channel) Dequeue() (jitter.Frame, bool) {
	return c.queue.Pop()
}

// QueueLen returns the current jitter queue depth.
func (c *Channel) QueueLen() int {
	return c.queue.Len()
}

// Touch records that a packet for this channel was just processed.
func (c *Channel) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recently processed packet.
func (c *Channel) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// RecordDropped increments the per-channel error counter surfaced by
// session.stats (section 6, "packets received, dropped").
func (c *Channel) RecordDropped() {
	c.packetsDropped.Add(1)
}

// Overflow returns the cumulative count of oldest-frame-dropped
// jitter queue overflow events for this channel.
func (c *Channel) Overflow() uint64 {
	return c.queue.Overflow()
}

// Stats is the snapshot returned by session.stats(id) (section 6).
type Stats struct {
	ChannelID       string    `json:"channel_id"`
	PacketsReceived uint64    `json:"packets_received"`
	PacketsDropped  uint64    `json:"packets_dropped"`
	QueueSize       int       `json:"queue_size"`
	QueueOverflows  uint64    `json:"queue_overflows"`
	Underflows      uint64    `json:"underflows"`
	GateOpen        bool      `json:"gate_open"`
	Volume          float32   `json:"volume"`
	Pan             string    `json:"pan"`
	LastActivity    time.Time `json:"last_activity"`
}

// close releases the decoder and drains the queue (section 4.6,
// Streaming/Buffering -> remove_channel -> Absent).
func (c *Channel) close() error {
	c.queue.Drain()
	return c.decoder.Close()
}
