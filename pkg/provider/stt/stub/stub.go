// Package stub provides an offline STT provider that reports how much audio it
// was given instead of recognizing it.
//
// It is the default backend for development and for exercising the channel
// protocol end to end without a recognition service.
package stub

import (
	"context"
	"fmt"

	"github.com/MrWong99/endpointd/pkg/provider/stt"
)

// bytesPerSecond is the byte rate of 8 kHz 16-bit mono LPCM.
const bytesPerSecond = 16000

var _ stt.Provider = (*Provider)(nil)

// Provider answers every non-empty utterance with "Recognized N seconds.",
// where N is the whole number of seconds of 8 kHz mono audio received.
type Provider struct{}

// New returns a stub Provider.
func New() *Provider { return &Provider{} }

// Transcribe implements stt.Provider. Empty audio yields an empty transcript.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, _ stt.Config) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("stub: %w", err)
	}
	if len(pcm) == 0 {
		return stt.Transcript{}, nil
	}
	return stt.Transcript{
		Text:       fmt.Sprintf("Recognized %d seconds.", len(pcm)/bytesPerSecond),
		Confidence: 1,
	}, nil
}
