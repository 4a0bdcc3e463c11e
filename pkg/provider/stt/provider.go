// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one complete utterance of raw LPCM audio into text. The
// endpointing layer decides where an utterance starts and ends; providers only
// ever see the buffered speech of a closed span, so the interface is a single
// batch call rather than a streaming session.
//
// Implementations must be safe for concurrent use. Several channels may have
// recognitions in flight at the same time.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio may be returned by providers that refuse to transcribe an
// empty utterance. Callers short-circuit empty speech before reaching a
// provider, so seeing this error usually indicates a wiring bug.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Config describes the audio format and recognition hints of one
// transcription request.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Recognizer channels negotiate
	// 8000. Providers that need a different rate resample internally.
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words. Providers without a boosting API ignore
	// it.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognizes pcm (16-bit signed little-endian LPCM in the
	// format described by cfg) and returns the final transcript.
	//
	// Returns an error if the backend cannot be reached, rejects the request,
	// or ctx is cancelled before a result is available.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (Transcript, error)
}
