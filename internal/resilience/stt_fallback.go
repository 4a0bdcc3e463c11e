package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/endpointd/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// recognition backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe recognizes pcm with the first healthy backend, failing over to
// the next one when a backend returns an error.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	tr, _, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, pcm, cfg)
	})
	return tr, err
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Check implements a readiness probe: it fails when every backend's breaker
// is open.
func (f *STTFallback) Check(_ context.Context) error {
	if f.group.Available() {
		return nil
	}
	names := make([]error, 0, len(f.group.entries))
	for _, s := range f.group.Status() {
		names = append(names, fmt.Errorf("%s: %s", s.Name, s.State))
	}
	return fmt.Errorf("no recognition backend available: %w", errors.Join(names...))
}
