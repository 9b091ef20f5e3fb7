package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicemesh/client/internal/config"
	"github.com/voicemesh/client/internal/metrics"
	"github.com/voicemesh/client/internal/mixer"
	"github.com/voicemesh/client/internal/session"
)

// HTTPServer is the control-plane surface for one running session:
// health, channel roster/stats, and the add/remove/volume/pan/
// begin_transmit/end_transmit operations of section 4.7 and 4.5,
// alongside the Prometheus scrape endpoint.
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	sess    *session.Session
	metrics *metrics.Metrics

	startTime time.Time
	mu        sync.RWMutex
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// NewHTTPServer creates a new HTTP API server bound to a running
// session.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger,
	appConfig *config.Config, sess *session.Session, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sess:      sess,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/channels", h.withMetrics("/channels", h.handleChannels))
	mux.HandleFunc("/channels/", h.withMetrics("/channels/{id}", h.handleChannelDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/transmit", h.withMetrics("/transmit", h.handleTransmit))

	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("server: starting HTTP control surface", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("server: HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("server: stopping HTTP control surface")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	health := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"uptime":         uptime.String(),
		"active_channels": len(h.sess.ListChannels()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleChannels implements GET /channels (list + stats) and
// POST /channels (add_channel, section 4.6).
func (h *HTTPServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ids := h.sess.ListChannels()
		all := make([]session.Stats, 0, len(ids))
		for _, id := range ids {
			st, err := h.sess.Stats(id)
			if err != nil {
				continue
			}
			all = append(all, st)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"total_channels": len(all),
			"channels":       all,
		})

	case http.MethodPost:
		var req struct {
			ChannelID string  `json:"channel_id"`
			Volume    float32 `json:"volume"`
			Pan       string  `json:"pan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.ChannelID == "" {
			http.Error(w, "channel_id required", http.StatusBadRequest)
			return
		}
		if req.Volume == 0 {
			req.Volume = 1.0
		}
		pan := parsePan(req.Pan)
		if err := h.sess.AddChannel(req.ChannelID, req.Volume, pan); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleChannelDetail implements GET/PATCH/DELETE /channels/{id}
// (section 4.6 remove_channel, section 4.7 set_volume/set_pan).
func (h *HTTPServer) handleChannelDetail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/channels/"):]
	if id == "" {
		http.Error(w, "channel id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		st, err := h.sess.Stats(id)
		if err != nil {
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)

	case http.MethodPatch:
		var req struct {
			Volume *float32 `json:"volume"`
			Pan    *string  `json:"pan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Volume != nil {
			if err := h.sess.SetVolume(id, *req.Volume); err != nil {
				http.Error(w, "channel not found", http.StatusNotFound)
				return
			}
		}
		if req.Pan != nil {
			if err := h.sess.SetPan(id, parsePan(*req.Pan)); err != nil {
				http.Error(w, "channel not found", http.StatusNotFound)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := h.sess.RemoveChannel(id); err != nil {
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTransmit implements POST /transmit (begin/end, section 4.5).
func (h *HTTPServer) handleTransmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Action    string `json:"action"` // "begin" or "end"
		ChannelID string `json:"channel_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "begin":
		if req.ChannelID == "" {
			http.Error(w, "channel_id required", http.StatusBadRequest)
			return
		}
		err = h.sess.BeginTransmit(req.ChannelID)
	case "end":
		err = h.sess.EndTransmit()
	default:
		http.Error(w, `action must be "begin" or "end"`, http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parsePan(s string) mixer.Pan {
	switch s {
	case "LEFT":
		return mixer.Left
	case "RIGHT":
		return mixer.Right
	default:
		return mixer.Center
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitized := map[string]interface{}{
		"network": map[string]interface{}{
			"listen_address":        h.config.Network.ListenAddress,
			"dest_host":             h.config.Network.DestHost,
			"dest_port":             h.config.Network.DestPort,
			"keepalive_interval_ms": h.config.Network.KeepAliveIntervalMs,
			// key is intentionally omitted for security
		},
		"mixer": map[string]interface{}{
			"sample_rate":         h.config.Mixer.SampleRate,
			"mixer_frame_samples": h.config.Mixer.MixerFrameSamples,
			"jitter_gate_frames":  h.config.Mixer.JitterGateFrames,
			"max_queue_frames":    h.config.Mixer.MaxQueueFrames,
			"fade_samples":        h.config.Mixer.FadeSamples,
		},
		"device": map[string]interface{}{
			"output_device": h.config.Device.OutputDevice,
			"input_device":  h.config.Device.InputDevice,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "voicemesh client",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /channels":         "List active channels and their stats",
			"POST /channels":        "Add a channel (channel_id, volume, pan)",
			"GET /channels/{id}":    "Get one channel's stats",
			"PATCH /channels/{id}":  "Set volume and/or pan",
			"DELETE /channels/{id}": "Remove a channel",
			"POST /transmit":        `Begin or end the transmit stream ({"action":"begin","channel_id":"..."})`,
			"GET /config":           "Get sanitized service configuration",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
