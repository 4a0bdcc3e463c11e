package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/endpointd/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Recognizer: config.RecognizerConfig{NoInputTimeoutMs: 5000},
		Providers: config.ProvidersConfig{
			STT:          config.ProviderEntry{Name: "whisper", Options: map[string]any{"threads": 4}},
			STTFallbacks: []config.ProviderEntry{{Name: "stub"}},
		},
		Vocabulary: []string{"Grafana"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("Diff of identical configs = %+v, want no changes", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("got LogLevelChanged=%v NewLogLevel=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_VocabularyChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Vocabulary = append(new.Vocabulary, "Postgres")

	d := config.Diff(old, new)
	if !d.VocabularyChanged {
		t.Fatal("expected VocabularyChanged=true")
	}
	if !slices.Equal(d.NewVocabulary, []string{"Grafana", "Postgres"}) {
		t.Errorf("NewVocabulary = %v", d.NewVocabulary)
	}
}

func TestDiff_ParamsChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Recognizer.NoInputTimeoutMs = 3000
	new.Recognizer.StartInputTimers = true

	d := config.Diff(old, new)
	if !d.ParamsChanged {
		t.Fatal("expected ParamsChanged=true")
	}
	if d.NewParams.NoInputTimeout != 3*time.Second || !d.NewParams.StartInputTimers {
		t.Errorf("NewParams = %+v", d.NewParams)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }, "server"},
		{"tls", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"} }, "server"},
		{"frame duration", func(c *config.Config) { c.Recognizer.FrameDurationMs = 20 }, "recognizer"},
		{"language", func(c *config.Config) { c.Recognizer.Language = "de" }, "recognizer"},
		{"primary provider", func(c *config.Config) { c.Providers.STT.Name = "deepgram" }, "providers"},
		{"provider option", func(c *config.Config) { c.Providers.STT.Options["threads"] = 8 }, "providers"},
		{"fallback list", func(c *config.Config) { c.Providers.STTFallbacks = nil }, "providers"},
		{"journal", func(c *config.Config) { c.Journal.PostgresDSN = "postgres://x" }, "journal"},
		{"telemetry", func(c *config.Config) { c.Telemetry.ServiceName = "other" }, "telemetry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tt.want}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tt.want)
			}
			if d.LogLevelChanged || d.VocabularyChanged || d.ParamsChanged {
				t.Errorf("unexpected hot-reload change: %+v", d)
			}
		})
	}
}
