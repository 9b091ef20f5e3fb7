package session

import (
	"encoding/base64"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voicemesh/client/internal/config"
	"github.com/voicemesh/client/internal/metrics"
	"github.com/voicemesh/client/internal/mixer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	return config.Config{
		Network: config.NetworkConfig{
			ListenAddress:       "127.0.0.1:0",
			DestHost:            "127.0.0.1",
			DestPort:            9999,
			Key:                 key,
			KeepAliveIntervalMs: 5000,
		},
		Mixer: config.MixerConfig{
			SampleRate:        48000,
			MixerFrameSamples: 1920,
			JitterGateFrames:  5,
			MaxQueueFrames:    20,
			FadeSamples:       64,
		},
	}
}

// newTestSession builds a Session without calling Start, so channel
// bookkeeping can be exercised without a socket or audio device.
func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(testConfig(), metrics.NewMetrics(), discardLogger())
	require.NoError(t, err)
	return s
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	cfg := testConfig()
	cfg.Network.Key = base64.StdEncoding.EncodeToString(make([]byte, 10))
	_, err := New(cfg, metrics.NewMetrics(), discardLogger())
	require.Error(t, err)
}

func TestAddAndRemoveChannel(t *testing.T) {
	s := newTestSession(t)

	require.NoError(t, s.AddChannel("room-1", 0.8, mixer.Left))
	require.ElementsMatch(t, []string{"room-1"}, s.ListChannels())

	ch, ok := s.channel("room-1")
	require.True(t, ok)
	require.InDelta(t, 0.8, ch.Volume(), 0.0001)
	require.Equal(t, mixer.Left, ch.Pan())

	require.NoError(t, s.RemoveChannel("room-1"))
	require.Empty(t, s.ListChannels())
}

func TestRemoveUnknownChannel(t *testing.T) {
	s := newTestSession(t)
	require.ErrorIs(t, s.RemoveChannel("ghost"), ErrUnknownChannel)
}

func TestSetVolumeClampsAndAppliesToUnknownChannelErrors(t *testing.T) {
	s := newTestSession(t)
	require.ErrorIs(t, s.SetVolume("ghost", 0.5), ErrUnknownChannel)

	require.NoError(t, s.AddChannel("a", 1.0, mixer.Center))
	require.NoError(t, s.SetVolume("a", 5.0)) // clamps to 1.0
	ch, _ := s.channel("a")
	require.InDelta(t, 1.0, ch.Volume(), 0.0001)
}

func TestSetPanUnknownChannelErrors(t *testing.T) {
	s := newTestSession(t)
	require.ErrorIs(t, s.SetPan("ghost", mixer.Right), ErrUnknownChannel)
}

func TestStatsUnknownChannelErrors(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Stats("ghost")
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestEndTransmitWithoutBeginErrors(t *testing.T) {
	s := newTestSession(t)
	require.ErrorIs(t, s.EndTransmit(), ErrNotTransmitting)
}

func TestIsTransmittingFalseInitially(t *testing.T) {
	s := newTestSession(t)
	require.False(t, s.isTransmitting())
}
