package ingress

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voicemesh/client/internal/codec"
	"github.com/voicemesh/client/internal/crypto"
	"github.com/voicemesh/client/internal/jitter"
	"github.com/voicemesh/client/internal/metrics"
	"github.com/voicemesh/client/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannel struct {
	id      string
	dec     *codec.Decoder
	queue   *jitter.Queue
	touched int
	dropped int
}

func newFakeChannel(t *testing.T, id string) *fakeChannel {
	dec, err := codec.NewDecoder()
	require.NoError(t, err)
	return &fakeChannel{id: id, dec: dec, queue: jitter.NewQueue(20)}
}

func (c *fakeChannel) ID() string             { return c.id }
func (c *fakeChannel) Decoder() *codec.Decoder { return c.dec }
func (c *fakeChannel) Enqueue(f jitter.Frame)  { c.queue.Push(f) }
func (c *fakeChannel) Touch()                 { c.touched++ }
func (c *fakeChannel) RecordDropped()         { c.dropped++ }
func (c *fakeChannel) QueueLen() int          { return c.queue.Len() }
func (c *fakeChannel) Overflow() uint64       { return c.queue.Overflow() }

func testKey() []byte {
	return make([]byte, crypto.KeySize)
}

func buildAudioDatagram(t *testing.T, box *crypto.Box, channelID string, samples []int16) []byte {
	enc, err := codec.NewEncoder(len(samples))
	require.NoError(t, err)
	defer enc.Close()

	packet, err := enc.Encode(samples)
	require.NoError(t, err)

	ciphertext, err := box.Encrypt(packet)
	require.NoError(t, err)

	datagram, err := wire.EncodeAudio(channelID, ciphertext)
	require.NoError(t, err)
	return datagram
}

func TestHandleDatagramDecodesAndEnqueues(t *testing.T) {
	box, err := crypto.NewBox(testKey())
	require.NoError(t, err)

	ch := newFakeChannel(t, "alpha")
	lookup := func(id string) (Channel, bool) {
		if id == ch.id {
			return ch, true
		}
		return nil, false
	}
	p := NewPipeline(box, lookup, metrics.NewMetrics(), discardLogger())

	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = 1000
	}
	datagram := buildAudioDatagram(t, box, "alpha", samples)

	p.HandleDatagram(datagram)

	require.Equal(t, 1, ch.queue.Len())
	require.Equal(t, 1, ch.touched)
}

func TestHandleDatagramDiscardsUnknownChannel(t *testing.T) {
	box, err := crypto.NewBox(testKey())
	require.NoError(t, err)

	lookup := func(id string) (Channel, bool) { return nil, false }
	p := NewPipeline(box, lookup, metrics.NewMetrics(), discardLogger())

	samples := make([]int16, 960)
	datagram := buildAudioDatagram(t, box, "ghost", samples)

	require.NotPanics(t, func() { p.HandleDatagram(datagram) })
}

func TestHandleDatagramDiscardsMalformedJSON(t *testing.T) {
	box, err := crypto.NewBox(testKey())
	require.NoError(t, err)
	ch := newFakeChannel(t, "alpha")
	lookup := func(id string) (Channel, bool) { return ch, true }
	p := NewPipeline(box, lookup, metrics.NewMetrics(), discardLogger())

	require.NotPanics(t, func() { p.HandleDatagram([]byte("not json")) })
	require.Equal(t, 0, ch.queue.Len())
	require.Equal(t, 0, ch.dropped)
}

func TestHandleDatagramDiscardsBadAuth(t *testing.T) {
	box, err := crypto.NewBox(testKey())
	require.NoError(t, err)
	ch := newFakeChannel(t, "alpha")
	lookup := func(id string) (Channel, bool) { return ch, true }
	p := NewPipeline(box, lookup, metrics.NewMetrics(), discardLogger())

	samples := make([]int16, 960)
	datagram := buildAudioDatagram(t, box, "alpha", samples)

	// Encrypt the same samples under a different key: the envelope is
	// well-formed but fails GCM authentication under the pipeline's key.
	wrongBox, err := crypto.NewBox(append([]byte{0xFF}, testKey()[1:]...))
	require.NoError(t, err)
	badDatagram := buildAudioDatagram(t, wrongBox, "alpha", samples)
	_ = datagram

	require.NotPanics(t, func() { p.HandleDatagram(badDatagram) })
	require.Equal(t, 0, ch.queue.Len())
	require.Equal(t, 1, ch.dropped)
}

func TestHandleDatagramDiscardsGarbageCiphertext(t *testing.T) {
	box, err := crypto.NewBox(testKey())
	require.NoError(t, err)
	ch := newFakeChannel(t, "alpha")
	lookup := func(id string) (Channel, bool) { return ch, true }
	p := NewPipeline(box, lookup, metrics.NewMetrics(), discardLogger())

	garbage, err := box.Encrypt(make([]byte, 16))
	require.NoError(t, err)
	datagram, err := wire.EncodeAudio("alpha", garbage)
	require.NoError(t, err)

	require.NotPanics(t, func() { p.HandleDatagram(datagram) })
	require.Equal(t, 0, ch.queue.Len())
	require.Equal(t, 1, ch.dropped)
}
