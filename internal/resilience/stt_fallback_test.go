package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/endpointd/pkg/provider/stt"
	sttmock "github.com/MrWong99/endpointd/pkg/provider/stt/mock"
)

func newSTTFallback(primary, secondary stt.Provider) *STTFallback {
	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("secondary", secondary)
	return fb
}

var telephony = stt.Config{SampleRate: 8000, Channels: 1}

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Result: stt.Transcript{Text: "from primary"}}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "from secondary"}}
	fb := newSTTFallback(primary, secondary)

	tr, err := fb.Transcribe(context.Background(), make([]byte, 320), telephony)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from primary" {
		t.Errorf("Text = %q", tr.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Errorf("calls primary=%d secondary=%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
	call, _ := primary.LastCall()
	if len(call.PCM) != 320 || call.Cfg.SampleRate != 8000 {
		t.Errorf("primary got %d bytes at %d Hz", len(call.PCM), call.Cfg.SampleRate)
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "from secondary"}}
	fb := newSTTFallback(primary, secondary)

	tr, err := fb.Transcribe(context.Background(), make([]byte, 320), telephony)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from secondary" {
		t.Errorf("Text = %q", tr.Text)
	}
	if fb.Status()[0].State != StateOpen {
		t.Errorf("primary breaker = %v, want open", fb.Status()[0].State)
	}
	if err := fb.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil with a healthy secondary", err)
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}
	fb := newSTTFallback(primary, secondary)

	_, err := fb.Transcribe(context.Background(), make([]byte, 320), telephony)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if err := fb.Check(context.Background()); err == nil {
		t.Fatal("Check() = nil, want error with every breaker open")
	}
}
