package channel

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/endpointd/internal/recog"
)

// applyHeaders returns p overridden by the recognizer headers present in h.
// Header names are matched case-insensitively. Timeouts are in milliseconds.
func applyHeaders(p recog.Params, h map[string]string) (recog.Params, error) {
	for name, raw := range h {
		value := strings.TrimSpace(raw)
		switch {
		case strings.EqualFold(name, HeaderStartInputTimers):
			b, err := strconv.ParseBool(value)
			if err != nil {
				return p, illegal(name, raw)
			}
			p.StartInputTimers = b
		case strings.EqualFold(name, HeaderNoInputTimeout):
			d, err := parseMillis(value)
			if err != nil {
				return p, illegal(name, raw)
			}
			p.NoInputTimeout = d
		case strings.EqualFold(name, HeaderSpeechCompleteTimeout):
			d, err := parseMillis(value)
			if err != nil {
				return p, illegal(name, raw)
			}
			p.SilenceTimeout = d
		case strings.EqualFold(name, HeaderRecognitionTimeout):
			d, err := parseMillis(value)
			if err != nil {
				return p, illegal(name, raw)
			}
			p.RecognitionTimeout = d
		case strings.EqualFold(name, HeaderSensitivityLevel):
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return p, illegal(name, raw)
			}
			// Out-of-range sensitivity is clamped by the detector, not rejected.
			p.Sensitivity = f
		}
	}
	return p, nil
}

// paramHeaders renders p as GET-PARAMS response headers.
func paramHeaders(p recog.Params) map[string]string {
	return map[string]string{
		HeaderStartInputTimers:      strconv.FormatBool(p.StartInputTimers),
		HeaderNoInputTimeout:        strconv.FormatInt(p.NoInputTimeout.Milliseconds(), 10),
		HeaderSpeechCompleteTimeout: strconv.FormatInt(p.SilenceTimeout.Milliseconds(), 10),
		HeaderRecognitionTimeout:    strconv.FormatInt(p.RecognitionTimeout.Milliseconds(), 10),
		HeaderSensitivityLevel:      strconv.FormatFloat(p.Sensitivity, 'f', -1, 64),
	}
}

// selectHeaders keeps only the headers named in want. An empty want keeps
// everything.
func selectHeaders(all map[string]string, want map[string]string) map[string]string {
	if len(want) == 0 {
		return all
	}
	out := make(map[string]string, len(want))
	for name := range want {
		for k, v := range all {
			if strings.EqualFold(k, name) {
				out[k] = v
			}
		}
	}
	return out
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

func parseMillis(s string) (time.Duration, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 || ms > maxMillis {
		return 0, fmt.Errorf("invalid milliseconds %q", s)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func illegal(name, value string) error {
	return fmt.Errorf("%w: %s=%q", ErrIllegalValue, name, value)
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	return maps.Clone(h)
}
