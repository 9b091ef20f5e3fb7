package egress

import (
	"fmt"
	"log/slog"

	"github.com/voicemesh/client/internal/codec"
	"github.com/voicemesh/client/internal/crypto"
	"github.com/voicemesh/client/internal/metrics"
	"github.com/voicemesh/client/internal/wire"
)

// Source captures one mono PCM frame per call, blocking until it is
// available. sink.Capture implements this.
type Source interface {
	Read() ([]int16, error)
}

// Sender delivers a single outbound datagram to the configured
// destination. A *net.UDPConn (via its WriteTo or Write method)
// implements this through a small adapter in the session package.
type Sender interface {
	Send(data []byte) error
}

// Transmitter runs the capture -> encode -> encrypt -> wrap -> send
// loop for exactly one channel id at a time (section 4.5: "Only one
// transmit stream is active at a time").
type Transmitter struct {
	channelID string
	source    Source
	encoder   *codec.Encoder
	box       *crypto.Box
	sender    Sender
	metrics   *metrics.Metrics
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTransmitter builds a transmitter for one begin_transmit call.
// The encoder must already be configured for the capture frame size.
func NewTransmitter(channelID string, source Source, encoder *codec.Encoder, box *crypto.Box, sender Sender, m *metrics.Metrics, logger *slog.Logger) *Transmitter {
	return &Transmitter{
		channelID: channelID,
		source:    source,
		encoder:   encoder,
		box:       box,
		sender:    sender,
		metrics:   m,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run executes the transmit loop until Stop is called or capture
// fails unrecoverably. It closes the encoder before returning, per
// section 4.5: "On stop, the encoder is released."
func (tx *Transmitter) Run() {
	defer close(tx.doneCh)
	defer tx.encoder.Close()

	for {
		select {
		case <-tx.stopCh:
			return
		default:
		}

		pcm, err := tx.source.Read()
		if err != nil {
			tx.logger.Error("egress: capture read failed, stopping transmitter",
				slog.String("channel_id", tx.channelID), slog.String("error", err.Error()))
			return
		}
		tx.metrics.RecordFrameCaptured()

		if err := tx.sendFrame(pcm); err != nil {
			tx.logger.Warn("egress: dropping frame",
				slog.String("channel_id", tx.channelID), slog.String("error", err.Error()))
			continue
		}
		tx.metrics.RecordFrameSent()
	}
}

func (tx *Transmitter) sendFrame(pcm []int16) error {
	packet, err := tx.encoder.Encode(pcm)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	ciphertext, err := tx.box.Encrypt(packet)
	if err != nil {
		tx.metrics.RecordEncryptFailure()
		return fmt.Errorf("encrypt: %w", err)
	}

	datagram, err := wire.EncodeAudio(tx.channelID, ciphertext)
	if err != nil {
		return fmt.Errorf("wrap: %w", err)
	}

	if err := tx.sender.Send(datagram); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Stop signals the loop to exit after the current capture frame
// finishes (section 5: "transmitter exits after finishing the current
// capture frame") and waits for it to do so.
func (tx *Transmitter) Stop() {
	close(tx.stopCh)
	<-tx.doneCh
}
