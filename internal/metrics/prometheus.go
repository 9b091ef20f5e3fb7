package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice client.
// Each instance carries its own Registry rather than registering
// against the global default, so a session (and its test doubles) can
// be constructed more than once per process without a duplicate
// registration panic.
type Metrics struct {
	Registry *prometheus.Registry

	// Ingress (receive) metrics
	DatagramsReceived prometheus.Counter
	DecryptFailures    prometheus.Counter
	DecodeFailures     prometheus.Counter
	ParseErrors        prometheus.Counter

	// Channel / jitter queue metrics
	ActiveChannels    prometheus.Gauge
	ChannelsCreated    prometheus.Counter
	ChannelsRemoved    prometheus.Counter
	QueueDepth         *prometheus.GaugeVec
	QueueOverflows     *prometheus.CounterVec

	// Mixer metrics
	MixerActiveChannels prometheus.Gauge
	MixerPeak           prometheus.Gauge
	MixerCyclesTotal    prometheus.Counter
	MixerPeakLimited    prometheus.Counter
	ChannelUnderflows   *prometheus.CounterVec

	// Egress (transmit) metrics
	FramesCaptured  prometheus.Counter
	FramesSent      prometheus.Counter
	EncryptFailures prometheus.Counter
	KeepAlivesSent  prometheus.Counter

	// HTTP control-surface metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates a private registry and registers all Prometheus
// metrics against it.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	reg := promauto.With(registry)
	return &Metrics{
		Registry: registry,

		DatagramsReceived: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DecryptFailures: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_decrypt_failures_total",
			Help: "Total number of AES-GCM authentication failures",
		}),
		DecodeFailures: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_decode_failures_total",
			Help: "Total number of Opus decode failures or panics recovered",
		}),
		ParseErrors: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_parse_errors_total",
			Help: "Total number of malformed wire envelope errors",
		}),

		ActiveChannels: reg.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_active_channels",
			Help: "Current number of active voice channels",
		}),
		ChannelsCreated: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_channels_created_total",
			Help: "Total number of channels created",
		}),
		ChannelsRemoved: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_channels_removed_total",
			Help: "Total number of channels removed",
		}),
		QueueDepth: reg.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicemesh_jitter_queue_depth",
			Help: "Current jitter queue depth per channel",
		}, []string{"channel_id"}),
		QueueOverflows: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_jitter_queue_overflows_total",
			Help: "Total number of oldest-frame-dropped overflow events per channel",
		}, []string{"channel_id"}),

		MixerActiveChannels: reg.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_mixer_active_channels",
			Help: "Number of channels that contributed audio in the last mixer cycle",
		}),
		MixerPeak: reg.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_mixer_peak",
			Help: "Absolute peak sample value observed in the last mixer cycle, pre-limiting",
		}),
		MixerCyclesTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_mixer_cycles_total",
			Help: "Total number of mixer cycles that produced output",
		}),
		MixerPeakLimited: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_mixer_peak_limited_total",
			Help: "Total number of mixer cycles where the peak limiter scaled the frame",
		}),
		ChannelUnderflows: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_channel_underflows_total",
			Help: "Total number of jitter underflow fade-outs per channel",
		}, []string{"channel_id"}),

		FramesCaptured: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_frames_captured_total",
			Help: "Total number of microphone frames captured",
		}),
		FramesSent: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_frames_sent_total",
			Help: "Total number of encoded+encrypted frames sent",
		}),
		EncryptFailures: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_encrypt_failures_total",
			Help: "Total number of transmit-path encryption failures",
		}),
		KeepAlivesSent: reg.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_keepalives_sent_total",
			Help: "Total number of keep-alive datagrams sent",
		}),

		HTTPRequests: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_http_requests_total",
			Help: "Total number of HTTP requests to the control surface",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicemesh_http_request_duration_seconds",
			Help:    "Duration of HTTP requests to the control surface",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_http_errors_total",
			Help: "Total number of HTTP control-surface errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagramReceived increments the datagrams received counter
func (m *Metrics) RecordDatagramReceived() {
	m.DatagramsReceived.Inc()
}

// RecordDecryptFailure increments the decrypt failure counter
func (m *Metrics) RecordDecryptFailure() {
	m.DecryptFailures.Inc()
}

// RecordDecodeFailure increments the decode failure counter
func (m *Metrics) RecordDecodeFailure() {
	m.DecodeFailures.Inc()
}

// RecordParseError increments the parse error counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetActiveChannels sets the current number of active channels
func (m *Metrics) SetActiveChannels(count int) {
	m.ActiveChannels.Set(float64(count))
}

// RecordChannelCreated increments the channels created counter
func (m *Metrics) RecordChannelCreated() {
	m.ChannelsCreated.Inc()
}

// RecordChannelRemoved increments the channels removed counter
func (m *Metrics) RecordChannelRemoved() {
	m.ChannelsRemoved.Inc()
}

// SetQueueDepth sets the jitter queue depth for one channel
func (m *Metrics) SetQueueDepth(channelID string, depth int) {
	m.QueueDepth.WithLabelValues(channelID).Set(float64(depth))
}

// RecordQueueOverflow increments the overflow counter for one channel
func (m *Metrics) RecordQueueOverflow(channelID string) {
	m.QueueOverflows.WithLabelValues(channelID).Inc()
}

// SetMixerActiveChannels sets the number of channels mixed in the last cycle
func (m *Metrics) SetMixerActiveChannels(count int) {
	m.MixerActiveChannels.Set(float64(count))
}

// SetMixerPeak sets the pre-limiting peak sample value of the last cycle
func (m *Metrics) SetMixerPeak(peak float64) {
	m.MixerPeak.Set(peak)
}

// RecordMixerCycle increments the cycle counter and, if the peak limiter
// scaled this frame, the peak-limited counter.
func (m *Metrics) RecordMixerCycle(peakLimited bool) {
	m.MixerCyclesTotal.Inc()
	if peakLimited {
		m.MixerPeakLimited.Inc()
	}
}

// RecordUnderflow increments the underflow counter for one channel
func (m *Metrics) RecordUnderflow(channelID string) {
	m.ChannelUnderflows.WithLabelValues(channelID).Inc()
}

// RecordFrameCaptured increments the microphone frames captured counter
func (m *Metrics) RecordFrameCaptured() {
	m.FramesCaptured.Inc()
}

// RecordFrameSent increments the frames sent counter
func (m *Metrics) RecordFrameSent() {
	m.FramesSent.Inc()
}

// RecordEncryptFailure increments the transmit-path encrypt failure counter
func (m *Metrics) RecordEncryptFailure() {
	m.EncryptFailures.Inc()
}

// RecordKeepAliveSent increments the keep-alive counter
func (m *Metrics) RecordKeepAliveSent() {
	m.KeepAlivesSent.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
