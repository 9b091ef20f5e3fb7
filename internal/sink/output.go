package sink

import (
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
)

// minViableBufferFrames is a conservative floor for the PortAudio ring
// buffer; the actual buffer is sized to at least 4x this or 8x the
// mixer's output frame, per section 4.8.
const minViableBufferFrames = 256

// Output is the single stereo 16-bit PCM output device the mixer
// writes complete frames to with blocking semantics.
type Output struct {
	stream *portaudio.Stream
	buf    []int16
}

// OpenOutput opens the named output device (or the platform default
// if deviceName is empty) at sampleRate, stereo, framesPerBuffer
// samples per channel. framesPerBuffer should be OUTPUT_FRAME_SHORTS/2
// (the mixer emits interleaved stereo, one mixer-frame's worth of
// frames per channel per write).
func OpenOutput(deviceName string, sampleRate float64, framesPerBuffer int) (*Output, error) {
	device, err := resolveDevice(deviceName, false)
	if err != nil {
		return nil, fmt.Errorf("resolve output device: %w", err)
	}

	buf := make([]int16, framesPerBuffer*2)

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 2,
			Latency:  outputLatency(device, framesPerBuffer, sampleRate),
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}

	return &Output{stream: stream, buf: buf}, nil
}

// outputLatency floors the device's default latency at the section
// 4.8 buffer-sizing requirement: at least max(minViableBufferFrames*4,
// framesPerBuffer*8) per-channel samples of headroom (≈320ms at the
// mixer's 1920-sample frame and 48kHz). The device's own reported
// default is kept when it already exceeds that floor.
func outputLatency(device *portaudio.DeviceInfo, framesPerBuffer int, sampleRate float64) time.Duration {
	requiredFrames := framesPerBuffer * 8
	if floor := minViableBufferFrames * 4; floor > requiredFrames {
		requiredFrames = floor
	}
	floor := time.Duration(float64(requiredFrames) / sampleRate * float64(time.Second))
	if device.DefaultLowOutputLatency > floor {
		return device.DefaultLowOutputLatency
	}
	return floor
}

// Write blocks until exactly len(frame) interleaved stereo samples
// have been delivered to the device. frame must have the same length
// as the buffer this Output was opened with.
func (o *Output) Write(frame []int16) error {
	if len(frame) != len(o.buf) {
		return fmt.Errorf("output: frame length %d does not match device buffer %d", len(frame), len(o.buf))
	}
	copy(o.buf, frame)
	return o.stream.Write()
}

// Close stops and releases the output device.
func (o *Output) Close() error {
	if err := o.stream.Stop(); err != nil {
		o.stream.Close()
		return fmt.Errorf("stop output stream: %w", err)
	}
	return o.stream.Close()
}
