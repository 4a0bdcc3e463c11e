package stub_test

import (
	"context"
	"testing"

	"github.com/MrWong99/endpointd/pkg/provider/stt"
	"github.com/MrWong99/endpointd/pkg/provider/stt/stub"
)

func TestTranscribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		n    int
		want string
	}{
		{"empty", 0, ""},
		{"under a second", 15999, "Recognized 0 seconds."},
		{"one second", 16000, "Recognized 1 seconds."},
		{"full span", 16320, "Recognized 1 seconds."},
		{"three seconds", 48000, "Recognized 3 seconds."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := stub.New().Transcribe(context.Background(), make([]byte, tt.n), stt.Config{SampleRate: 8000, Channels: 1})
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if got.Text != tt.want {
				t.Errorf("Text = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stub.New().Transcribe(ctx, make([]byte, 160), stt.Config{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
