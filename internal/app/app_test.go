package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/endpointd/internal/app"
	"github.com/MrWong99/endpointd/internal/config"
	"github.com/MrWong99/endpointd/internal/journal"
	"github.com/MrWong99/endpointd/pkg/provider/stt"
	"github.com/MrWong99/endpointd/pkg/provider/stt/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Vocabulary: []string{"Eldrinax"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	met, _ := newTestMetrics(t)
	opts = append([]app.Option{
		app.WithJournal(journal.NewMemory(10)),
		app.WithMetrics(met),
		app.WithShutdownTimeout(2 * time.Second),
	}, opts...)
	a, err := app.New(context.Background(), cfg, &mock.Provider{Result: stt.Transcript{Text: "hello"}}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// waitReady polls /readyz until it answers 200.
func waitReady(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server never became ready")
}

func TestApp_RunServesAndStops(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())
	if a.Addr() == "" {
		t.Fatal("Addr() is empty after New")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	base := "http://" + a.Addr()
	waitReady(t, base)

	resp, err := http.Get(base + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status: %v", err)
	}
	var st struct {
		ActiveChannels int    `json:"active_channels"`
		OpenedChannels uint64 `json:"opened_channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if st.ActiveChannels != 0 || st.OpenedChannels != 0 {
		t.Errorf("status = %+v, want zero counters", st)
	}

	resp, err = http.Get(base + "/v1/completions")
	if err != nil {
		t.Fatalf("GET /v1/completions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/v1/completions status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := a.Manager().Check(context.Background()); err == nil {
		t.Error("manager still running after Run returned")
	}
}

func TestApp_OnConfigChange(t *testing.T) {
	t.Parallel()
	var lv slog.LevelVar
	old := testConfig()
	a := newTestApp(t, old, app.WithLevelVar(&lv))

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Vocabulary = []string{"Eldrinax", "Thornwood"}
	next.Recognizer.NoInputTimeoutMs = 2500
	next.Server.ListenAddr = "127.0.0.1:9999"

	a.OnConfigChange(old, next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if got := a.Corrector().Vocabulary(); !slices.Equal(got, next.Vocabulary) {
		t.Errorf("vocabulary = %v, want %v", got, next.Vocabulary)
	}
	if got := a.Manager().Defaults().NoInputTimeout; got != 2500*time.Millisecond {
		t.Errorf("NoInputTimeout default = %v, want 2.5s", got)
	}
}

func TestApp_NewFailsOnBusyAddress(t *testing.T) {
	t.Parallel()
	first := newTestApp(t, testConfig())

	cfg := testConfig()
	cfg.Server.ListenAddr = first.Addr()
	_, err := app.New(context.Background(), cfg, &mock.Provider{}, app.WithJournal(journal.NewMemory(1)))
	if err == nil {
		t.Fatal("New succeeded on an address already in use")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
