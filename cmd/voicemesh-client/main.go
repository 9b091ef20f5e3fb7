package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voicemesh/client/internal/config"
	"github.com/voicemesh/client/internal/metrics"
	"github.com/voicemesh/client/internal/server"
	"github.com/voicemesh/client/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voicemesh-client"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("configuration loaded",
		slog.String("listen_address", cfg.Network.ListenAddress),
		slog.String("dest_host", cfg.Network.DestHost),
		slog.Int("dest_port", cfg.Network.DestPort),
		slog.Int("keepalive_interval_ms", cfg.Network.KeepAliveIntervalMs),
		slog.Int("sample_rate", cfg.Mixer.SampleRate),
		slog.Int("jitter_gate_frames", cfg.Mixer.JitterGateFrames),
		slog.Int("max_queue_frames", cfg.Mixer.MaxQueueFrames),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := portaudio.Initialize(); err != nil {
		logger.Error("failed to initialize portaudio", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer portaudio.Terminate()

	appMetrics := metrics.NewMetrics()
	logger.Info("prometheus metrics initialized")

	sess, err := session.New(*cfg, appMetrics, logger)
	if err != nil {
		logger.Error("failed to construct session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := sess.Start(); err != nil {
		logger.Error("failed to start session", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("session started",
		slog.String("listen_address", cfg.Network.ListenAddress),
		slog.String("dest", fmt.Sprintf("%s:%d", cfg.Network.DestHost, cfg.Network.DestPort)),
	)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpConfig := server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
			Enabled: cfg.HTTP.Enabled,
		}
		httpServer = server.NewHTTPServer(httpConfig, logger, cfg, sess, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("failed to start HTTP control surface", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP control surface initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("voicemesh client ready, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping HTTP control surface", slog.String("error", err.Error()))
		}
	}

	if err := sess.Stop(); err != nil {
		logger.Error("error stopping session", slog.String("error", err.Error()))
	}

	logger.Info("voicemesh client stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
