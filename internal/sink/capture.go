package sink

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Capture is the single mono 16-bit PCM microphone input device the
// transmit pipeline reads from (section 4.5). Noise suppression and
// automatic gain control, if the platform subsystem provides them, are
// applied upstream of this device and are not this package's concern;
// their absence is not treated as an error here.
type Capture struct {
	stream *portaudio.Stream
	buf    []int16
}

// OpenCapture opens the named input device (or the platform default
// if deviceName is empty) at sampleRate, mono, framesPerBuffer samples.
func OpenCapture(deviceName string, sampleRate float64, framesPerBuffer int) (*Capture, error) {
	device, err := resolveDevice(deviceName, true)
	if err != nil {
		return nil, fmt.Errorf("resolve input device: %w", err)
	}

	buf := make([]int16, framesPerBuffer)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &Capture{stream: stream, buf: buf}, nil
}

// Read blocks until one frame of samples has been captured and
// returns a copy of it. The caller owns the returned slice.
func (c *Capture) Read() ([]int16, error) {
	if err := c.stream.Read(); err != nil {
		return nil, fmt.Errorf("read capture stream: %w", err)
	}
	out := make([]int16, len(c.buf))
	copy(out, c.buf)
	return out, nil
}

// Close stops and releases the capture device.
func (c *Capture) Close() error {
	if err := c.stream.Stop(); err != nil {
		c.stream.Close()
		return fmt.Errorf("stop input stream: %w", err)
	}
	return c.stream.Close()
}
