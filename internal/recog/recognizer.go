package recog

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/internal/transcript"
	"github.com/MrWong99/endpointd/pkg/audio"
	"github.com/MrWong99/endpointd/pkg/provider/stt"
)

// Recognizer turns one complete utterance of LPCM audio into text. An empty
// string is a valid result meaning "nothing recognised".
//
// Implementations must be safe for concurrent use; a [Buffer] calls Recognize
// from its own goroutine, one utterance at a time.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte) (string, error)
}

// RecognizerFunc adapts an ordinary function to the [Recognizer] interface.
type RecognizerFunc func(ctx context.Context, pcm []byte) (string, error)

// Recognize calls f(ctx, pcm).
func (f RecognizerFunc) Recognize(ctx context.Context, pcm []byte) (string, error) {
	return f(ctx, pcm)
}

const defaultBackendTimeout = 10 * time.Second

// ProviderOption is a functional option for [NewProviderRecognizer].
type ProviderOption func(*ProviderRecognizer)

// WithBackendTimeout bounds each transcription call. Zero disables the
// timeout. Default: 10s.
func WithBackendTimeout(d time.Duration) ProviderOption {
	return func(r *ProviderRecognizer) { r.timeout = d }
}

// WithFormat sets the audio format passed to the provider. Default:
// [audio.Telephony].
func WithFormat(f audio.Format) ProviderOption {
	return func(r *ProviderRecognizer) { r.format = f }
}

// WithLanguage sets the BCP-47 language hint passed to the provider.
func WithLanguage(lang string) ProviderOption {
	return func(r *ProviderRecognizer) { r.language = lang }
}

// WithCorrector attaches a vocabulary corrector applied to every non-empty
// transcript. Its phrases are also sent to the provider as keyword boosts.
func WithCorrector(c *transcript.Corrector) ProviderOption {
	return func(r *ProviderRecognizer) { r.corrector = c }
}

// WithProviderMetrics overrides the metrics sink. Default:
// [observe.DefaultMetrics].
func WithProviderMetrics(m *observe.Metrics) ProviderOption {
	return func(r *ProviderRecognizer) { r.metrics = m }
}

// ProviderRecognizer adapts an [stt.Provider] (normally a
// resilience.STTFallback) into a [Recognizer]. Each call is traced as
// "recog.recognize" and its latency recorded.
type ProviderRecognizer struct {
	provider  stt.Provider
	timeout   time.Duration
	format    audio.Format
	language  string
	corrector *transcript.Corrector
	metrics   *observe.Metrics
}

var _ Recognizer = (*ProviderRecognizer)(nil)

// NewProviderRecognizer wraps p.
func NewProviderRecognizer(p stt.Provider, opts ...ProviderOption) *ProviderRecognizer {
	r := &ProviderRecognizer{
		provider: p,
		timeout:  defaultBackendTimeout,
		format:   audio.Telephony,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Recognize transcribes pcm. Empty input returns "" without calling the
// provider.
func (r *ProviderRecognizer) Recognize(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	ctx, span := observe.StartSpan(ctx, "recog.recognize")
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cfg := stt.Config{
		SampleRate: r.format.SampleRate,
		Channels:   r.format.Channels,
		Language:   r.language,
	}
	if r.corrector != nil {
		for _, phrase := range r.corrector.Vocabulary() {
			cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: phrase, Boost: 2})
		}
	}

	start := time.Now()
	tr, err := r.provider.Transcribe(ctx, pcm, cfg)
	r.metrics.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("recog: transcribe %d bytes: %w", len(pcm), err)
	}

	text := tr.Text
	if r.corrector != nil && text != "" {
		res := r.corrector.Correct(text)
		for _, c := range res.Corrections {
			observe.Logger(ctx).Debug("transcript corrected",
				"original", c.Original,
				"corrected", c.Corrected,
				"confidence", c.Confidence,
			)
		}
		text = res.Text
	}
	return text, nil
}
