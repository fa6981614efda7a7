// Command mockstt is a local stand-in for an OpenAI-compatible transcription
// endpoint. It answers every chunk with its duration and can inject transient
// failures to exercise client retries.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
)

type transcriptionResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	Duration   float64 `json:"duration"`
}

type mockServer struct {
	logger    *slog.Logger
	latency   time.Duration
	failEvery uint64
	requests  atomic.Uint64
}

func (s *mockServer) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	n := s.requests.Add(1)
	if s.failEvery > 0 && n%s.failEvery == 0 {
		s.logger.Warn("Injecting failure", slog.Uint64("request", n))
		http.Error(w, "injected failure", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(audioData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	language := r.FormValue("language")
	prompt := r.FormValue("prompt")

	s.logger.Info("Transcription request received",
		slog.Uint64("request", n),
		slog.String("filename", header.Filename),
		slog.Int("audio_bytes", len(audioData)),
		slog.Float64("duration", info.Duration),
		slog.String("language", language),
		slog.Int("prompt_chars", len([]rune(prompt))),
		slog.Bool("authorized", r.Header.Get("Authorization") != ""),
	)

	// Simulate processing time
	select {
	case <-time.After(s.latency):
	case <-r.Context().Done():
		return
	}

	text := fmt.Sprintf("chunk %d with %.2f seconds of audio", n, info.Duration)

	if r.FormValue("response_format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, text)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcriptionResponse{
		Text:       text,
		Confidence: 0.95,
		Language:   language,
		Duration:   info.Duration,
	})
}

func (s *mockServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/audio/transcriptions", s.transcribeHandler)
	return mux
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated processing time per chunk")
	failEvery := flag.Uint64("fail-every", 0, "Answer every Nth request with 503 (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := &mockServer{logger: logger, latency: *latency, failEvery: *failEvery}

	logger.Info("Mock transcription server starting",
		slog.String("endpoint", fmt.Sprintf("http://localhost%s/v1/audio/transcriptions", *addr)),
	)

	if err := http.ListenAndServe(*addr, s.routes()); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
