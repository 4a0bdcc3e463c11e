package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/endpointd/internal/config"
	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/internal/resilience"
	"github.com/MrWong99/endpointd/pkg/provider/stt"
	"github.com/MrWong99/endpointd/pkg/provider/stt/stub"
)

// stubProviderName is used when providers.stt is not configured.
const stubProviderName = "stub"

// instrumented records backend call metrics around an [stt.Provider].
type instrumented struct {
	name    string
	next    stt.Provider
	metrics *observe.Metrics
}

var _ stt.Provider = (*instrumented)(nil)

func (p *instrumented) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	tr, err := p.next.Transcribe(ctx, pcm, cfg)
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.name, "error")
		p.metrics.RecordProviderError(ctx, p.name)
		return tr, err
	}
	p.metrics.RecordProviderRequest(ctx, p.name, "ok")
	return tr, nil
}

// BuildRecognizer instantiates the primary STT backend and every fallback
// named in cfg through reg and chains them behind per-backend circuit
// breakers. An unset primary falls back to the stub backend.
func BuildRecognizer(cfg config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*resilience.STTFallback, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("recognition backend breaker changed state", "provider", name, "from", from, "to", to)
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}

	primary := cfg.STT
	var p stt.Provider
	if primary.Name == "" {
		primary.Name = stubProviderName
		p = stub.New()
	} else {
		var err error
		if p, err = reg.CreateSTT(primary); err != nil {
			return nil, fmt.Errorf("app: primary stt provider: %w", err)
		}
	}
	slog.Info("provider created", "kind", "stt", "name", primary.Name, "role", "primary")
	fallback := resilience.NewSTTFallback(&instrumented{name: primary.Name, next: p, metrics: m}, primary.Name, fbCfg)

	for _, entry := range cfg.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered; skipping", "kind", "stt", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("app: fallback stt provider %q: %w", entry.Name, err)
		}
		fallback.AddFallback(entry.Name, &instrumented{name: entry.Name, next: p, metrics: m})
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
	}
	return fallback, nil
}
