// Package audio provides helpers for the 16-bit signed little-endian LPCM
// audio the recognizer channels negotiate (mono, 8 kHz by default).
//
// Frames are opaque to the endpointing state machine; these helpers only
// matter at the edges: sizing transport frames, and preparing buffered
// utterances for recognition backends that want WAV containers, a different
// sample rate, or float32 samples.
package audio

import "time"

const (
	// BytesPerSample is fixed for 16-bit LPCM.
	BytesPerSample = 2

	// DefaultSampleRate is the telephony sample rate offered in channel
	// capabilities.
	DefaultSampleRate = 8000

	// DefaultFrameDuration is the codec frame time base of the media pipeline.
	DefaultFrameDuration = 10 * time.Millisecond
)

// Format describes the sample rate and channel count of an LPCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Telephony is the format negotiated for recognizer channels.
var Telephony = Format{SampleRate: DefaultSampleRate, Channels: 1}

// FrameBytes returns the size in bytes of one frame of duration d in format f.
// Returns 0 for invalid formats.
func (f Format) FrameBytes(d time.Duration) int {
	if f.SampleRate <= 0 || f.Channels <= 0 || d <= 0 {
		return 0
	}
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * BytesPerSample
}

// Duration returns the playback duration of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * BytesPerSample
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}
