package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
	"github.com/arkonballoon/VoiceToDocWeb/internal/config"
	"github.com/arkonballoon/VoiceToDocWeb/internal/metrics"
	"github.com/arkonballoon/VoiceToDocWeb/internal/scheduler"
	"github.com/arkonballoon/VoiceToDocWeb/internal/stream"
	"github.com/arkonballoon/VoiceToDocWeb/internal/transcription"
	"github.com/arkonballoon/VoiceToDocWeb/internal/version"
)

// maxUpdatesPerTask bounds the updates one task can deliver (queued,
// processing, progress, terminal) with room to spare.
const maxUpdatesPerTask = 5

// Dependencies are the components the HTTP API reads from
type Dependencies struct {
	Config    *config.Config
	Sessions  *stream.Manager
	Scheduler *scheduler.Scheduler
	Resource  *transcription.SharedResource
	Client    *transcription.Client // nil when a non-HTTP engine is used
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // nil serves the default registry
}

// HTTPServer provides the transcription API and monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	deps    Dependencies

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Dependencies) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.GetWriteTimeoutDuration(),
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /transcribe", h.withMetrics("/transcribe", h.handleTranscribe))

	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("GET /sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("GET /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("DELETE /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDelete))

	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
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

// Flush forwards to the wrapped writer so streamed responses are not buffered
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// chunkInfo describes one planned chunk in the chunks_info line
type chunkInfo struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Forced   bool    `json:"forced"`
}

// handleTranscribe implements POST /transcribe?origin={session_id}
//
// The response is NDJSON: one chunks_info line, then either no_speech or
// every update of every chunk, closed by a transcript line.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	wav, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := r.URL.Query().Get("origin")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// Segment creates the session only for a decodable upload
	chunks, err := h.deps.Sessions.Segment(sessionID, wav)
	switch {
	case errors.Is(err, stream.ErrEmptyAudio):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, audio.ErrSegmentation):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.logger.Error("Segmentation failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "segmentation failed")
		return
	}

	session, ok := h.deps.Sessions.GetSession(sessionID)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, stream.ErrSessionNotFound.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	out := newLineWriter(w)

	infos := make([]chunkInfo, 0, len(chunks))
	for _, c := range chunks {
		infos = append(infos, chunkInfo{
			Index:    c.Index,
			Start:    c.Start.Seconds(),
			End:      c.End.Seconds(),
			Duration: c.Duration().Seconds(),
			Forced:   c.Forced,
		})
	}
	out.write(map[string]interface{}{
		"type":         "chunks_info",
		"session_id":   session.ID,
		"total_chunks": len(chunks),
		"chunks":       infos,
	})

	if len(chunks) == 0 {
		out.write(map[string]interface{}{
			"type":       "no_speech",
			"session_id": session.ID,
		})
		return
	}

	// Sized so that callbacks never block a worker
	updates := make(chan scheduler.Update, maxUpdatesPerTask*len(chunks))
	callback := func(u scheduler.Update) {
		updates <- u
	}

	taskIDs, err := h.deps.Sessions.SubmitChunks(r.Context(), session.ID, chunks, callback)
	if err != nil {
		h.logger.Warn("Submitting chunks failed",
			slog.String("session_id", session.ID),
			slog.Int("submitted", len(taskIDs)),
			slog.String("error", err.Error()),
		)
		out.write(map[string]interface{}{
			"type":       "error",
			"session_id": session.ID,
			"error":      err.Error(),
		})
	}

	for remaining := len(taskIDs); remaining > 0; {
		select {
		case u := <-updates:
			out.write(u)
			if scheduler.Terminal(u) {
				remaining--
			}
		case <-r.Context().Done():
			h.logger.Debug("Client went away before all chunks finished",
				slog.String("session_id", session.ID),
				slog.Int("remaining", remaining),
			)
			return
		}
	}

	out.write(map[string]interface{}{
		"type":       "transcript",
		"session_id": session.ID,
		"text":       session.Transcript(),
	})
}

// readUpload returns the WAV bytes from a multipart "file" field or the raw body
func (h *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if limit := h.deps.Config.HTTP.MaxUploadBytes; limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		return data, nil
	}

	r.Body = body
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file field: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	return data, nil
}

// lineWriter writes one JSON document per line and flushes after each
type lineWriter struct {
	enc *json.Encoder
	rc  *http.ResponseController
}

func newLineWriter(w http.ResponseWriter) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w), rc: http.NewResponseController(w)}
}

func (l *lineWriter) write(v interface{}) {
	if err := l.enc.Encode(v); err != nil {
		return
	}
	_ = l.rc.Flush()
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	schedulerStats := h.deps.Scheduler.GetStats()
	resourceStats := h.deps.Resource.GetStats()

	status := "healthy"
	if !schedulerStats.Running {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voicetodoc",
			"version": version.Version,
		},
		"components": map[string]interface{}{
			"scheduler": map[string]interface{}{
				"running":      schedulerStats.Running,
				"workers":      schedulerStats.Workers,
				"queue_length": schedulerStats.QueueLength,
			},
			"sessions": map[string]interface{}{
				"active_sessions": h.deps.Sessions.GetActiveSessionCount(),
			},
			"engine": map[string]interface{}{
				"busy":     resourceStats.Busy,
				"calls":    resourceStats.Calls,
				"failures": resourceStats.Failures,
			},
		},
	}

	writeJSON(w, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.deps.Sessions.GetAllSessions()

	writeJSON(w, map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleSessionDetail implements GET /sessions/{id}
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	session, exists := h.deps.Sessions.GetSession(r.PathValue("id"))
	if !exists {
		h.writeError(w, http.StatusNotFound, stream.ErrSessionNotFound.Error())
		return
	}

	writeJSON(w, session.GetSessionInfo())
}

// handleSessionDelete implements DELETE /sessions/{id}
func (h *HTTPServer) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Sessions.RemoveSession(r.PathValue("id")) {
		h.writeError(w, http.StatusNotFound, stream.ErrSessionNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.deps.Config.Sanitized())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"scheduler": h.deps.Scheduler.GetStats(),
		"engine":    h.deps.Resource.GetStats(),
		"sessions": map[string]interface{}{
			"active_count": h.deps.Sessions.GetActiveSessionCount(),
		},
	}
	if h.deps.Client != nil {
		stats["transcription"] = h.deps.Client.GetStats()
	}

	writeJSON(w, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "VoiceToDoc transcription service",
		"version": version.Version,
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"POST /transcribe":      "Segment a WAV upload and stream transcription updates as NDJSON (?origin=session_id)",
			"GET /health":           "Service health check",
			"GET /sessions":         "List all active sessions",
			"GET /sessions/{id}":    "Get detailed session information",
			"DELETE /sessions/{id}": "Remove a session",
			"GET /config":           "Get service configuration",
			"GET /stats":            "Get service statistics",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}
