package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/endpointd/internal/channel"
	"github.com/MrWong99/endpointd/internal/health"
	"github.com/MrWong99/endpointd/internal/journal"
	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/internal/recog"
	"github.com/MrWong99/endpointd/internal/server"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// startServer runs a manager (unless run is false) and an httptest server in
// front of it.
func startServer(t *testing.T, run bool, opts ...server.Option) (*httptest.Server, *channel.Manager) {
	t.Helper()
	m := testMetrics(t)
	rec := recog.RecognizerFunc(func(context.Context, []byte) (string, error) { return "hello world", nil })
	mgr := channel.NewManager(rec, channel.WithMetrics(m))

	if run {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = mgr.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
		deadline := time.Now().Add(2 * time.Second)
		for mgr.Check(ctx) != nil {
			if time.Now().After(deadline) {
				t.Fatal("manager did not start")
			}
			time.Sleep(time.Millisecond)
		}
	}

	srv := server.New(mgr, append([]server.Option{server.WithMetrics(m)}, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mgr
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/channels", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Read(ctx, conn, v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := wsjson.Write(context.Background(), conn, v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestChannelSession_RecognizesSpeech(t *testing.T) {
	t.Parallel()
	ts, mgr := startServer(t, true)
	conn := dial(t, ts)

	var hello struct {
		Type      string `json:"type"`
		ChannelID string `json:"channel_id"`
	}
	readJSON(t, conn, &hello)
	if hello.Type != "channel" || hello.ChannelID != "ch-000001" {
		t.Fatalf("hello = %+v", hello)
	}

	writeJSON(t, conn, map[string]any{
		"type": "request",
		"request": map[string]any{
			"request_id": 1,
			"method":     "RECOGNIZE",
			"headers":    map[string]string{"Start-Input-Timers": "true"},
		},
	})
	var resp channel.Message
	readJSON(t, conn, &resp)
	if resp.Kind != channel.KindResponse || resp.StatusCode != 200 || resp.State != channel.StateInProgress {
		t.Fatalf("RECOGNIZE response = %+v", resp)
	}

	msgs := make(chan channel.Message, 16)
	go func() {
		defer close(msgs)
		for {
			var m channel.Message
			if err := wsjson.Read(context.Background(), conn, &m); err != nil {
				return
			}
			msgs <- m
		}
	}()

	// 25 frames per message; the remainder handling is covered by the framer
	// tests.
	var got []channel.Message
	payload := make([]byte, 25*160)
	for i := 0; i < 200; i++ {
		if err := conn.Write(context.Background(), websocket.MessageBinary, payload); err != nil {
			t.Fatalf("write audio: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	drain:
		for {
			select {
			case m := <-msgs:
				got = append(got, m)
			default:
				break drain
			}
		}
		if n := len(got); n > 0 && got[n-1].Name == channel.EventRecognitionComplete {
			break
		}
	}

	if len(got) != 2 {
		t.Fatalf("messages = %+v, want START-OF-INPUT and RECOGNITION-COMPLETE", got)
	}
	if got[0].Name != channel.EventStartOfInput {
		t.Errorf("first event = %q", got[0].Name)
	}
	done := got[1]
	if done.Body != "hello world" || done.Headers[channel.HeaderCompletionCause] != "000 success" || done.RequestID != 1 {
		t.Errorf("completion = %+v", done)
	}

	var st struct {
		Active int    `json:"active_channels"`
		Opened uint64 `json:"opened_channels"`
	}
	if code := getJSON(t, ts.URL+"/v1/status", &st); code != http.StatusOK || st.Active != 1 || st.Opened != 1 {
		t.Errorf("status = %d %+v", code, st)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(2 * time.Second)
	for mgr.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("channel not closed after session ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChannelSession_BadMessagesKeepSessionOpen(t *testing.T) {
	t.Parallel()
	ts, _ := startServer(t, true)
	conn := dial(t, ts)
	var hello map[string]any
	readJSON(t, conn, &hello)

	if err := conn.Write(context.Background(), websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var e struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	readJSON(t, conn, &e)
	if e.Type != "error" || !strings.Contains(e.Error, "invalid json") {
		t.Errorf("error message = %+v", e)
	}

	writeJSON(t, conn, map[string]any{"type": "subscribe"})
	readJSON(t, conn, &e)
	if !strings.Contains(e.Error, `unknown message type "subscribe"`) {
		t.Errorf("error message = %+v", e)
	}

	writeJSON(t, conn, map[string]any{"type": "request", "request": map[string]any{"request_id": 4, "method": "INTERPRET"}})
	var resp channel.Message
	readJSON(t, conn, &resp)
	if resp.StatusCode != channel.StatusMethodNotAllowed || resp.RequestID != 4 {
		t.Errorf("unknown method response = %+v", resp)
	}

	// DTMF outside a request is ignored; the session still answers.
	writeJSON(t, conn, map[string]any{"type": "dtmf", "event_id": 1, "marker": "start"})
	writeJSON(t, conn, map[string]any{"type": "request", "request": map[string]any{"request_id": 5, "method": "GET-PARAMS"}})
	readJSON(t, conn, &resp)
	if resp.RequestID != 5 || resp.Headers[channel.HeaderNoInputTimeout] != "5000" {
		t.Errorf("GET-PARAMS response = %+v", resp)
	}
}

func TestChannelSession_ManagerUnavailable(t *testing.T) {
	t.Parallel()
	ts, _ := startServer(t, false)
	conn := dial(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusTryAgainLater {
		t.Errorf("close status = %v (err %v), want %v", got, err, websocket.StatusTryAgainLater)
	}
}

func TestCompletions(t *testing.T) {
	t.Parallel()
	j := journal.NewMemory(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range []journal.Entry{
		{ChannelID: "ch-000001", RequestID: 1, Cause: "success", Text: "hello world", Elapsed: 1500 * time.Millisecond},
		{ChannelID: "ch-000001", RequestID: 2, Cause: "no-input-timeout"},
		{ChannelID: "ch-000002", RequestID: 1, Cause: "success", Text: "open Grafana"},
	} {
		e.CompletedAt = base.Add(time.Duration(i) * time.Minute)
		if err := j.Record(context.Background(), e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	ts, _ := startServer(t, true, server.WithJournal(j))

	type row struct {
		ChannelID string `json:"channel_id"`
		RequestID uint32 `json:"request_id"`
		Cause     string `json:"cause"`
		Text      string `json:"text"`
		ElapsedMS int64  `json:"elapsed_ms"`
	}
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantText []string
	}{
		{"recent", "", http.StatusOK, []string{"open Grafana", "", "hello world"}},
		{"search", "?q=GRAFANA", http.StatusOK, []string{"open Grafana"}},
		{"by channel", "?channel=ch-000001&limit=1", http.StatusOK, []string{""}},
		{"by cause", "?cause=success", http.StatusOK, []string{"open Grafana", "hello world"}},
		{"after", "?after=2026-03-01T12:00:30Z", http.StatusOK, []string{"open Grafana", ""}},
		{"bad limit", "?limit=zero", http.StatusBadRequest, nil},
		{"bad after", "?after=yesterday", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var rows []row
			var target any = &rows
			if tt.wantCode != http.StatusOK {
				target = &map[string]string{}
			}
			code := getJSON(t, ts.URL+"/v1/completions"+tt.query, target)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if len(rows) != len(tt.wantText) {
				t.Fatalf("rows = %+v, want texts %q", rows, tt.wantText)
			}
			for i, want := range tt.wantText {
				if rows[i].Text != want {
					t.Errorf("row %d text = %q, want %q", i, rows[i].Text, want)
				}
			}
		})
	}

	var rows []row
	getJSON(t, ts.URL+"/v1/completions?q=hello", &rows)
	if len(rows) != 1 || rows[0].ElapsedMS != 1500 {
		t.Errorf("elapsed_ms = %+v, want 1500", rows)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()
	ready := health.Checker{Name: "channels", Check: func(context.Context) error { return nil }}
	ts, _ := startServer(t, true,
		server.WithHealth(health.New(ready)),
		server.WithMetricsHandler(observe.Handler(prometheus.NewRegistry())),
	)

	if code := getJSON(t, ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Errorf("/healthz = %d", code)
	}
	if code := getJSON(t, ts.URL+"/readyz", nil); code != http.StatusOK {
		t.Errorf("/readyz = %d", code)
	}
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d", resp.StatusCode)
	}
	if code := getJSON(t, ts.URL+"/v1/completions", nil); code != http.StatusNotFound {
		t.Errorf("/v1/completions without journal = %d, want 404", code)
	}
}
