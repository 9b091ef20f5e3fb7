package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/thesyncim/gopus"
)

const (
	// SampleRate is the fixed wire sample rate, per section 4.3.
	SampleRate = 48000
	// Channels is fixed mono for every voice stream.
	Channels = 1
	// MaxSamples bounds a single decoded frame: DECODER_MAX_SAMPLES (100ms).
	MaxSamples = 4800
)

// ErrClosed is returned by Encode/Decode once Close has been called.
var ErrClosed = errors.New("codec: instance closed")

// Encoder wraps a per-channel Opus encoder instance configured for
// 48kHz mono at a fixed frame size, per section 4.5.
type Encoder struct {
	mu     sync.Mutex
	enc    *gopus.Encoder
	closed bool
}

// NewEncoder creates an encoder for the given frame size in samples
// (e.g. 1920 for 40ms at 48kHz). Fails only if the codec library
// rejects the configuration; the caller treats that as a refusal to
// add the channel/start transmitting, per section 7.
func NewEncoder(frameSize int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.ApplicationVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: new encoder: %w", err)
	}
	if err := enc.SetFrameSize(frameSize); err != nil {
		return nil, fmt.Errorf("codec: set frame size %d: %w", frameSize, err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode compresses a frame of 16-bit mono PCM into an Opus packet.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	out := make([]byte, 4000)
	n, err := e.enc.EncodeInt16(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return out[:n], nil
}

// Close releases the encoder. Idempotent.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Decoder wraps a per-channel Opus decoder instance configured for
// 48kHz mono, created once per channel when the channel is added and
// used by the ingress pipeline (section 4.4 step 5).
type Decoder struct {
	mu     sync.Mutex
	dec    *gopus.Decoder
	closed bool
}

// NewDecoder creates a decoder for 48kHz mono with a max frame of
// MaxSamples, per section 4.3's DECODER_MAX_SAMPLES.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode expands an Opus packet into 16-bit mono PCM. A return of 0 or
// a non-nil error means the ingress pipeline must increment its
// decode-error counter and discard the packet (section 4.4 step 5);
// it must never propagate a panic from malformed codec input.
func (d *Decoder) Decode(packet []byte) (samples []int16, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	defer func() {
		if r := recover(); r != nil {
			samples, err = nil, fmt.Errorf("codec: decode panic: %v", r)
		}
	}()

	pcm, decErr := d.dec.DecodeInt16Slice(packet)
	if decErr != nil {
		return nil, fmt.Errorf("codec: decode: %w", decErr)
	}
	if len(pcm) == 0 {
		return nil, errors.New("codec: decode produced zero samples")
	}
	if len(pcm) > MaxSamples {
		pcm = pcm[:MaxSamples]
	}
	return pcm, nil
}

// Close releases the decoder. Idempotent.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
