package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/endpointd/pkg/provider/stt"
)

type capturedForm struct {
	model    string
	language string
	prompt   string
	filename string
	header   string
}

func newTranscriptionServer(t *testing.T, status int, text string, captured chan<- capturedForm) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		if captured != nil {
			f, hdr, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			head := make([]byte, 4)
			_, _ = io.ReadFull(f, head)
			captured <- capturedForm{
				model:    r.FormValue("model"),
				language: r.FormValue("language"),
				prompt:   r.FormValue("prompt"),
				filename: hdr.Filename,
				header:   string(head),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.ModelID())
	}
}

func TestTranscribe_UploadsWAVWithHints(t *testing.T) {
	captured := make(chan capturedForm, 1)
	srv := newTranscriptionServer(t, http.StatusOK, " restart the ingress ", captured)

	p, err := New("sk-test", "gpt-4o-mini-transcribe", WithBaseURL(srv.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), make([]byte, 8000), stt.Config{
		SampleRate: 8000,
		Channels:   1,
		Language:   "en-US",
		Keywords:   []stt.KeywordBoost{{Keyword: "ingress"}, {Keyword: "Helm"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "restart the ingress" {
		t.Errorf("Text = %q", tr.Text)
	}

	form := <-captured
	if form.model != "gpt-4o-mini-transcribe" {
		t.Errorf("model = %q", form.model)
	}
	if form.language != "en" {
		t.Errorf("language = %q, want en", form.language)
	}
	if form.prompt != "ingress, Helm" {
		t.Errorf("prompt = %q", form.prompt)
	}
	if form.filename != "audio.wav" || form.header != "RIFF" {
		t.Errorf("file = %q (%q), want audio.wav RIFF", form.filename, form.header)
	}
}

func TestTranscribe_EmptyAudioSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL))
	tr, err := p.Transcribe(context.Background(), nil, stt.Config{})
	if err != nil || tr.Text != "" {
		t.Fatalf("Transcribe(nil) = %q, %v", tr.Text, err)
	}
	if calls.Load() != 0 {
		t.Error("expected no request for empty audio")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := newTranscriptionServer(t, http.StatusInternalServerError, "", nil)
	p, _ := New("sk-test", "", WithBaseURL(srv.URL), WithMaxRetries(0))
	if _, err := p.Transcribe(context.Background(), make([]byte, 160), stt.Config{}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestBaseLanguage(t *testing.T) {
	tests := map[string]string{
		"":      "",
		"en":    "en",
		"en-US": "en",
		"DE-de": "de",
	}
	for in, want := range tests {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
