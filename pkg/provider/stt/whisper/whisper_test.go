package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/endpointd/pkg/provider/stt"
	"github.com/MrWong99/endpointd/pkg/provider/stt/whisper"
)

// capturedRequest holds what the mock server observed for one inference call.
type capturedRequest struct {
	language string
	model    string
	wav      []byte
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. Observed requests are sent to captured
// when it is non-nil.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, captured chan<- capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if captured != nil {
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			wav, _ := io.ReadAll(f)
			captured <- capturedRequest{
				language: r.FormValue("language"),
				model:    r.FormValue("model"),
				wav:      wav,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func telephony() stt.Config { return stt.Config{SampleRate: 8000, Channels: 1} }

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

func TestTranscribe_ReturnsServerText(t *testing.T) {
	srv := newMockServer(t, "  Hello darkness my old friend\n", nil, nil)
	p, _ := whisper.New(srv.URL)

	tr, err := p.Transcribe(context.Background(), make([]byte, 16000), telephony())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Hello darkness my old friend" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", tr.Duration)
	}
}

func TestTranscribe_UploadsResampledWAV(t *testing.T) {
	captured := make(chan capturedRequest, 1)
	srv := newMockServer(t, "ok", nil, captured)
	p, _ := whisper.New(srv.URL, whisper.WithModel("base.en"), whisper.WithLanguage("de"))

	if _, err := p.Transcribe(context.Background(), make([]byte, 1600), telephony()); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	req := <-captured
	if req.language != "de" {
		t.Errorf("language = %q, want de", req.language)
	}
	if req.model != "base.en" {
		t.Errorf("model = %q, want base.en", req.model)
	}
	if string(req.wav[0:4]) != "RIFF" {
		t.Fatalf("upload is not a WAV file")
	}
	if rate := binary.LittleEndian.Uint32(req.wav[24:28]); rate != 16000 {
		t.Errorf("WAV sample rate = %d, want 16000", rate)
	}
	// 100 ms at 8 kHz → 100 ms at 16 kHz = 3200 bytes of data.
	if size := binary.LittleEndian.Uint32(req.wav[40:44]); size != 3200 {
		t.Errorf("WAV data size = %d, want 3200", size)
	}
}

func TestTranscribe_ConfigLanguageOverridesDefault(t *testing.T) {
	captured := make(chan capturedRequest, 1)
	srv := newMockServer(t, "ok", nil, captured)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"))

	cfg := telephony()
	cfg.Language = "fr"
	if _, err := p.Transcribe(context.Background(), make([]byte, 160), cfg); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := (<-captured).language; got != "fr" {
		t.Errorf("language = %q, want fr", got)
	}
}

func TestTranscribe_EmptyAudioSkipsServer(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "unexpected", &calls, nil)
	p, _ := whisper.New(srv.URL)

	tr, err := p.Transcribe(context.Background(), nil, telephony())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("Text = %q, want empty", tr.Text)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d time(s), want 0", n)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), make([]byte, 160), telephony()); err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), make([]byte, 160), telephony()); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "unexpected", &calls, nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, make([]byte, 160), telephony()); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d time(s), want 0", n)
	}
}

func TestTranscribe_ConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "hello", &calls, nil)
	p, _ := whisper.New(srv.URL)

	done := make(chan error, 4)
	for range 4 {
		go func() {
			_, err := p.Transcribe(context.Background(), make([]byte, 320), telephony())
			done <- err
		}()
	}
	for range 4 {
		if err := <-done; err != nil {
			t.Errorf("Transcribe: %v", err)
		}
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("server called %d time(s), want 4", n)
	}
}
