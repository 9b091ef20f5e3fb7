package egress

import (
	"log/slog"
	"time"

	"github.com/voicemesh/client/internal/metrics"
	"github.com/voicemesh/client/internal/wire"
)

// KeepAlive periodically sends {"type":"KEEP_ALIVE"} while no
// microphone transmission is in progress, per section 4.9.
type KeepAlive struct {
	sender    Sender
	interval  time.Duration
	isBusy    func() bool // true while a Transmitter is active
	metrics   *metrics.Metrics
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKeepAlive builds a keep-alive task. isBusy must report whether a
// transmit stream is currently active, so the task can yield to it
// (section 5: "must coordinate with the transmitter to avoid sending
// keep-alives while capture is active").
func NewKeepAlive(sender Sender, interval time.Duration, isBusy func() bool, m *metrics.Metrics, logger *slog.Logger) *KeepAlive {
	return &KeepAlive{
		sender:   sender,
		interval: interval,
		isBusy:   isBusy,
		metrics:  m,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run executes the periodic send loop until Stop is called.
func (k *KeepAlive) Run() {
	defer close(k.doneCh)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
			if k.isBusy() {
				continue
			}
			datagram, err := wire.EncodeKeepAlive()
			if err != nil {
				k.logger.Error("keepalive: failed to encode datagram", slog.String("error", err.Error()))
				continue
			}
			if err := k.sender.Send(datagram); err != nil {
				k.logger.Warn("keepalive: send failed", slog.String("error", err.Error()))
				continue
			}
			k.metrics.RecordKeepAliveSent()
		}
	}
}

// Stop signals the loop to exit and waits for it to finish.
func (k *KeepAlive) Stop() {
	close(k.stopCh)
	<-k.doneCh
}
