package config

import (
	"reflect"
	"slices"

	"github.com/MrWong99/endpointd/internal/recog"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes carry their new value; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VocabularyChanged bool
	NewVocabulary     []string

	// ParamsChanged reports a change of the channel defaults. Open channels
	// keep their parameters; new channels start with NewParams.
	ParamsChanged bool
	NewParams     recog.Params

	// RestartRequired names the changed sections that only take effect after
	// a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VocabularyChanged || d.ParamsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Vocabulary, new.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Vocabulary)
	}

	if oldP, newP := old.Recognizer.Params(), new.Recognizer.Params(); oldP != newP {
		d.ParamsChanged = true
		d.NewParams = newP
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Recognizer.SampleRate != new.Recognizer.SampleRate ||
		old.Recognizer.FrameDurationMs != new.Recognizer.FrameDurationMs ||
		old.Recognizer.BackendTimeoutMs != new.Recognizer.BackendTimeoutMs ||
		old.Recognizer.Language != new.Recognizer.Language {
		d.RestartRequired = append(d.RestartRequired, "recognizer")
	}
	if !sameEntry(old.Providers.STT, new.Providers.STT) ||
		!slices.EqualFunc(old.Providers.STTFallbacks, new.Providers.STTFallbacks, sameEntry) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
