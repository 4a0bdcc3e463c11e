package whisper

import (
	"encoding/binary"

	"github.com/MrWong99/endpointd/pkg/audio"
	"github.com/MrWong99/endpointd/pkg/provider/stt"
)

func sampleRate(cfg stt.Config) int {
	if cfg.SampleRate <= 0 {
		return audio.DefaultSampleRate
	}
	return cfg.SampleRate
}

func channels(cfg stt.Config) int {
	if cfg.Channels <= 0 {
		return 1
	}
	return cfg.Channels
}

// toModelRate down-mixes pcm to mono and resamples it to the 16 kHz rate
// whisper.cpp requires.
func toModelRate(pcm []byte, cfg stt.Config) []byte {
	mono := downmix16(pcm, channels(cfg))
	return audio.ResampleMono16(mono, sampleRate(cfg), modelSampleRate)
}

// downmix16 averages interleaved 16-bit channels into a single channel. If
// channels is 1 the input is returned unchanged.
func downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += int(int16(binary.LittleEndian.Uint16(pcm[idx : idx+2])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/channels)))
	}
	return out
}
