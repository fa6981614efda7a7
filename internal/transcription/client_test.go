package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, endpoint string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Endpoint:     endpoint,
		Timeout:      5 * time.Second,
		RetryBackoff: time.Millisecond,
		Language:     "de",
		Model:        "whisper-1",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

type capturedRequest struct {
	form     map[string]string
	fileData []byte
	auth     string
}

func TestClientTranscribe(t *testing.T) {
	captured := make(chan capturedRequest, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := capturedRequest{
			form: map[string]string{},
			auth: r.Header.Get("Authorization"),
		}
		for key, values := range r.MultipartForm.Value {
			req.form[key] = values[0]
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		req.fileData, _ = io.ReadAll(file)
		captured <- req

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"  Guten Morgen  ","confidence":0.87}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(c *Config) { c.APIKey = "secret" })

	result, err := client.Transcribe(context.Background(), []byte("RIFFdata"), "Vorher gesagt")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	req := <-captured

	if result.Text != "Guten Morgen" {
		t.Errorf("Expected trimmed text, got %q", result.Text)
	}
	if result.Confidence != 0.87 {
		t.Errorf("Expected confidence 0.87, got %v", result.Confidence)
	}
	if result.Language != "de" {
		t.Errorf("Expected language fallback 'de', got %q", result.Language)
	}
	if string(req.fileData) != "RIFFdata" {
		t.Errorf("Expected audio to be uploaded, got %q", req.fileData)
	}
	if req.auth != "Bearer secret" {
		t.Errorf("Expected bearer token, got %q", req.auth)
	}
	expected := map[string]string{
		"prompt":          "Vorher gesagt",
		"language":        "de",
		"model":           "whisper-1",
		"response_format": "json",
	}
	for key, value := range expected {
		if req.form[key] != value {
			t.Errorf("Field %s: expected %q, got %q", key, value, req.form[key])
		}
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 || stats.SuccessRate != 100 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestClientOmitsEmptyFields(t *testing.T) {
	captured := make(chan capturedRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		req := capturedRequest{form: map[string]string{}, auth: r.Header.Get("Authorization")}
		for key, values := range r.MultipartForm.Value {
			req.form[key] = values[0]
		}
		captured <- req
		fmt.Fprint(w, "plain text result\n")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(c *Config) { c.OutputFormat = "text" })

	result, err := client.Transcribe(context.Background(), []byte("wav"), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	req := <-captured

	if result.Text != "plain text result" {
		t.Errorf("Unexpected text %q", result.Text)
	}
	if _, ok := req.form["prompt"]; ok {
		t.Error("Expected no prompt field for empty context")
	}
	if req.form["response_format"] != "text" {
		t.Errorf("Expected response_format text, got %q", req.form["response_format"])
	}
	if req.auth != "" {
		t.Error("Expected no Authorization header without API key")
	}
}

func TestClientRetries(t *testing.T) {
	tests := []struct {
		name         string
		maxRetries   int
		statuses     []int
		wantErr      bool
		wantStatus   int
		wantRequests int32
	}{
		{"succeeds after 503", 2, []int{503, 200}, false, 0, 2},
		{"succeeds after 429", 1, []int{429, 200}, false, 0, 2},
		{"gives up after retries", 2, []int{500, 502, 503}, true, 503, 3},
		{"no retry on 400", 3, []int{400}, true, 400, 1},
		{"no retries by default", 0, []int{503}, true, 503, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&requests, 1)
				status := tt.statuses[n-1]
				if status != http.StatusOK {
					http.Error(w, "unavailable", status)
					return
				}
				fmt.Fprint(w, `{"text":"ok"}`)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, func(c *Config) { c.MaxRetries = tt.maxRetries })
			_, err := client.Transcribe(context.Background(), []byte("wav"), "")

			if got := atomic.LoadInt32(&requests); got != tt.wantRequests {
				t.Errorf("Expected %d requests, got %d", tt.wantRequests, got)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Expected success, got %v", err)
				}
				return
			}

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("Expected *HTTPError, got %v", err)
			}
			if httpErr.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, httpErr.StatusCode)
			}
			if client.GetStats().FailedRequests != 1 {
				t.Error("Expected failure to be counted")
			}
		})
	}
}

func TestClientInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	if _, err := client.Transcribe(context.Background(), []byte("wav"), ""); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestClientThroughSharedResource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	resource := NewSharedResource(newTestClient(t, server.URL, nil), nil, nil)
	_, err := resource.Transcribe(context.Background(), []byte("wav"), "")
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("Expected ErrTranscriptionFailed, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected wrapped HTTP 422, got %v", err)
	}
}
