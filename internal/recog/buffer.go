// Package recog turns a stream of fixed-duration audio frames into
// recognition decisions for one channel.
//
// A [Buffer] owns the endpointing detector of the current utterance, hands
// closed speech spans to a [Recognizer] on a separate goroutine, and exposes
// a non-blocking poll for the result. [Buffer.Handle] maps each detector
// event to the [Outcome] the caller must act on (start-of-input or
// recognition-complete).
//
// A Buffer is driven by a single frame path: Prepare, Write, Handle and Step
// must not be called concurrently.
package recog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/pkg/audio"
	"github.com/MrWong99/endpointd/pkg/endpoint"
)

// ErrNotPrepared is returned by [Buffer.Write] before the first
// [Buffer.Prepare].
var ErrNotPrepared = errors.New("recog: buffer not prepared")

// SpeechOnset is the fixed speech-onset threshold of every utterance.
const SpeechOnset = 100 * time.Millisecond

// Params are the per-request recognition settings, normally parsed from the
// RECOGNIZE request.
type Params struct {
	// StartInputTimers enables no-input accounting immediately.
	StartInputTimers bool

	// NoInputTimeout is the budget before any speech must be detected.
	NoInputTimeout time.Duration

	// SilenceTimeout is the silence threshold that ends an utterance.
	SilenceTimeout time.Duration

	// RecognitionTimeout caps the total audio duration of the request.
	RecognitionTimeout time.Duration

	// Sensitivity is the speech detector sensitivity in [0, 1]. Values outside
	// the range are clamped to 1.
	Sensitivity float64
}

// DefaultParams mirror the detector a channel starts with before its first
// RECOGNIZE request.
var DefaultParams = Params{
	NoInputTimeout:     5 * time.Second,
	SilenceTimeout:     time.Second,
	RecognitionTimeout: 20 * time.Second,
	Sensitivity:        0.5,
}

// Option is a functional option for configuring a [Buffer].
type Option func(*Buffer)

// WithFrameDuration sets the codec time base each written frame represents.
// Default: [audio.DefaultFrameDuration] (10ms).
func WithFrameDuration(d time.Duration) Option {
	return func(b *Buffer) { b.frameDur = d }
}

// WithID tags log records and spans with the owning channel identifier.
func WithID(id string) Option {
	return func(b *Buffer) { b.id = id }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Buffer) { b.metrics = m }
}

// Buffer is the recognition orchestrator of a single channel.
type Buffer struct {
	rec      Recognizer
	frameDur time.Duration
	id       string
	metrics  *observe.Metrics

	det      *endpoint.Detector
	event    endpoint.Event
	awaiting bool
	pending  slot

	wg sync.WaitGroup
}

// New returns an unprepared Buffer that hands utterances to rec.
func New(rec Recognizer, opts ...Option) *Buffer {
	b := &Buffer{
		rec:      rec,
		frameDur: audio.DefaultFrameDuration,
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Prepare starts a new utterance: it resets the remembered event, clears the
// awaiting-result latch, drops any unread result, and builds a fresh detector
// from p.
func (b *Buffer) Prepare(p Params) {
	b.event = endpoint.Event{}
	b.awaiting = false
	b.pending = nil
	b.det = endpoint.New(endpoint.Config{
		TimersStarted: p.StartInputTimers,
		SpeechOnset:   SpeechOnset,
		Silence:       p.SilenceTimeout,
		NoInput:       p.NoInputTimeout,
		MaxDuration:   p.RecognitionTimeout,
	})
	b.det.SetSensitivity(p.Sensitivity)
	slog.Debug("utterance prepared", "channel", b.id,
		"speech_onset", b.det.SpeechOnset(),
		"silence", b.det.Silence(),
		"max_duration", b.det.MaxDuration(),
		"timers", p.StartInputTimers,
	)
}

// Prepared reports whether Prepare has been called.
func (b *Buffer) Prepared() bool { return b.det != nil }

// StartInputTimers enables no-input accounting. Idempotent.
func (b *Buffer) StartInputTimers() {
	if b.det != nil {
		b.det.StartTimers()
	}
}

// MarkInputStarted records speech onset. Idempotent.
func (b *Buffer) MarkInputStarted() {
	if b.det != nil {
		b.det.MarkInputStarted()
	}
}

// InputStarted reports whether speech onset was recorded. It is always true
// when input timers were never started.
func (b *Buffer) InputStarted() bool {
	if b.det == nil || !b.det.TimersStarted() {
		return true
	}
	return b.det.InputStarted()
}

// Write feeds one frame to the detector and remembers the raw event it
// raised, unless a hand-off is outstanding. It implements [io.Writer] and
// always consumes the whole frame.
func (b *Buffer) Write(frame []byte) (int, error) {
	if b.det == nil {
		return 0, ErrNotPrepared
	}
	ev := b.det.Process(frame, b.frameDur)
	if ev.Type != endpoint.EventNone {
		b.metrics.RecordDetectorEvent(context.Background(), ev.Type.String())
	}
	if !b.awaiting {
		b.event = ev
	}
	return len(frame), nil
}

// DetectorEvent returns the remembered event without consuming it. While a
// hand-off is outstanding it reports [endpoint.EventRecognizing].
func (b *Buffer) DetectorEvent() endpoint.Event {
	if b.awaiting {
		return endpoint.Event{Type: endpoint.EventRecognizing}
	}
	return b.event
}

// Awaiting reports whether a hand-off is outstanding.
func (b *Buffer) Awaiting() bool { return b.awaiting }

// RestartWriting clears the latch and the remembered event so the utterance
// continues as if nothing happened. The recorded speech onset is forgotten as
// well: the span recognised as empty did not count as input, so the next
// onset raises start-of-input again.
func (b *Buffer) RestartWriting() {
	b.awaiting = false
	b.event = endpoint.Event{}
	if b.det != nil {
		b.det.ClearInputStarted()
	}
}

// DurationTimeout returns the maximum duration budget of the current
// utterance.
func (b *Buffer) DurationTimeout() time.Duration {
	if b.det == nil {
		return 0
	}
	return b.det.MaxDuration()
}

// OnsetThreshold returns the speech-onset threshold of the current utterance.
func (b *Buffer) OnsetThreshold() time.Duration {
	if b.det == nil {
		return 0
	}
	return b.det.SpeechOnset()
}

// SilenceTimeout returns the silence threshold of the current utterance.
func (b *Buffer) SilenceTimeout() time.Duration {
	if b.det == nil {
		return 0
	}
	return b.det.Silence()
}

// NoInputRemaining returns what is left of the no-input budget.
func (b *Buffer) NoInputRemaining() time.Duration {
	if b.det == nil {
		return 0
	}
	return b.det.NoInputRemaining()
}

// Recognize hands the buffered speech to the recognizer and sets the
// awaiting-result latch. closed is the duration of the span that just ended;
// it is charged against the no-input budget. Recognize never blocks: the
// recognizer runs on its own goroutine bound to ctx.
func (b *Buffer) Recognize(ctx context.Context, closed time.Duration) {
	if b.det == nil {
		return
	}
	speech := b.det.TakeSpeech()
	b.det.DecreaseNoInput(closed)
	b.awaiting = true
	b.event = endpoint.Event{Type: endpoint.EventRecognizing}

	s := newSlot()
	b.pending = s
	b.metrics.UtteranceBytes.Record(ctx, int64(len(speech)))
	observe.Logger(ctx).Info("utterance handed off", "bytes", len(speech), "closed", closed)

	b.wg.Add(1)
	go b.handoff(ctx, s, speech)
}

// handoff runs the recognizer and delivers exactly one value into s, or
// closes s empty if the recognizer fails.
func (b *Buffer) handoff(ctx context.Context, s slot, speech []byte) {
	defer b.wg.Done()
	delivered := false
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("recognizer panicked", "panic", fmt.Sprint(r))
		}
		if !delivered {
			close(s)
		}
	}()

	if len(speech) == 0 {
		delivered = true
		s.deliver("")
		return
	}
	text, err := b.rec.Recognize(ctx, speech)
	if err != nil {
		observe.Logger(ctx).Error("recognition failed", "bytes", len(speech), "err", err)
		return
	}
	delivered = true
	s.deliver(text)
}

// LoadResult polls the pending hand-off without blocking. It returns
// (text, true) once the result is ready and consumes it; ("", false) while
// the recognizer is still running or nothing is in flight. A hand-off that
// ended without a result yields ("", true).
func (b *Buffer) LoadResult() (string, bool) {
	if b.pending == nil {
		return "", false
	}
	text, ready, broken := b.pending.poll()
	if !ready {
		return "", false
	}
	b.pending = nil
	if broken {
		slog.Error("unable to load recognition result", "channel", b.id)
		return "", true
	}
	return text, true
}

// Wait blocks until every spawned hand-off goroutine has returned.
func (b *Buffer) Wait() { b.wg.Wait() }
