package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sjawhar/voice-journal/internal/remote"
)

var fakeMP3 = []byte("ID3\x03\x00fake-mp3-frames")

func TestOpenAISynthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			Model          string `json:"model"`
			Input          string `json:"input"`
			Voice          string `json:"voice"`
			ResponseFormat string `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "tts-1" || req.Voice != "alloy" || req.ResponseFormat != "mp3" {
			t.Fatalf("unexpected request %#v", req)
		}
		if req.Input != "That sounds restful." {
			t.Fatalf("unexpected input %q", req.Input)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(fakeMP3)
	}))
	defer server.Close()

	dir := t.TempDir()
	client, err := NewClient("openai", "test-key", "", "", WithBaseURL(server.URL+"/v1"), WithTempDir(dir))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	file, err := client.Synthesize(context.Background(), "That sounds restful.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	defer func() { _ = file.Remove() }()

	if !strings.HasPrefix(file.Path(), dir) {
		t.Fatalf("expected speech file under %q, got %q", dir, file.Path())
	}
	data, err := os.ReadFile(file.Path())
	if err != nil {
		t.Fatalf("read speech file: %v", err)
	}
	if string(data) != string(fakeMP3) {
		t.Fatalf("unexpected speech contents %q", data)
	}
}

func TestOpenAISynthesizeUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	client, err := NewClient("openai", "bad-key", "", "", WithBaseURL(server.URL+"/v1"), WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	file, err := client.Synthesize(context.Background(), "hello")
	if !remote.IsAuth(err) {
		t.Fatalf("expected auth ServiceError, got %v", err)
	}
	if file != nil {
		t.Fatalf("expected no file on failure, got %q", file.Path())
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/text-to-speech/voice-1" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "mp3_44100_128" {
			t.Fatalf("unexpected output format %q", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "el-key" {
			t.Fatalf("unexpected api key header %q", got)
		}
		var req elevenLabsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "Rest well." || req.ModelID != defaultElevenLabsModel {
			t.Fatalf("unexpected request %#v", req)
		}
		_, _ = w.Write(fakeMP3)
	}))
	defer server.Close()

	client, err := NewClient("elevenlabs", "el-key", "", "voice-1", WithBaseURL(server.URL+"/"), WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	file, err := client.Synthesize(context.Background(), "Rest well.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	defer func() { _ = file.Remove() }()

	data, err := os.ReadFile(file.Path())
	if err != nil {
		t.Fatalf("read speech file: %v", err)
	}
	if string(data) != string(fakeMP3) {
		t.Fatalf("unexpected speech contents %q", data)
	}
}

func TestElevenLabsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient("elevenlabs", "el-key", "", "", WithBaseURL(server.URL), WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Synthesize(context.Background(), "hello")
	if !remote.IsRateLimited(err) {
		t.Fatalf("expected rate limited ServiceError, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected body in error, got %q", err.Error())
	}
}

func TestSynthesizeMissingKeySkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	for _, provider := range []string{"openai", "elevenlabs"} {
		t.Run(provider, func(t *testing.T) {
			client, err := NewClient(provider, "", "", "", WithBaseURL(server.URL))
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			_, err = client.Synthesize(context.Background(), "hello")
			if !errors.Is(err, remote.ErrMissingAPIKey) {
				t.Fatalf("expected ErrMissingAPIKey, got %v", err)
			}
		})
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no requests, got %d", calls.Load())
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	if _, err := NewClient("espeak", "key", "", ""); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
