package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the STT backends endpointd ships with.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"stub", "whisper", "whisper-native", "deepgram", "openai"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Recognizer
	r := cfg.Recognizer
	for _, f := range []struct {
		name  string
		value int
	}{
		{"sample_rate", r.SampleRate},
		{"frame_duration_ms", r.FrameDurationMs},
		{"no_input_timeout_ms", r.NoInputTimeoutMs},
		{"silence_timeout_ms", r.SilenceTimeoutMs},
		{"recognition_timeout_ms", r.RecognitionTimeoutMs},
		{"backend_timeout_ms", r.BackendTimeoutMs},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("recognizer.%s %d must not be negative", f.name, f.value))
		}
	}
	if s := r.Sensitivity; s != nil && (*s < 0 || *s > 1) {
		errs = append(errs, fmt.Errorf("recognizer.sensitivity %.2f is out of range [0, 1]", *s))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; recognition will use the stub backend")
	}
	validateProviderName("providers.stt", cfg.Providers.STT.Name)
	seen := map[string]string{cfg.Providers.STT.Name: "providers.stt"}
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
		validateProviderName(prefix, fb.Name)
	}

	// Vocabulary
	for i, phrase := range cfg.Vocabulary {
		if strings.TrimSpace(phrase) == "" {
			errs = append(errs, fmt.Errorf("vocabulary[%d] is empty", i))
		}
	}

	// Journal
	if cfg.Journal.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("journal.max_entries %d must not be negative", cfg.Journal.MaxEntries))
	}
	if cfg.Journal.PostgresDSN == "" {
		slog.Debug("journal.postgres_dsn is empty; completions are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
