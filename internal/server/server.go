// Package server exposes endpointd over HTTP.
//
// Routes:
//
//   - GET /v1/channels: WebSocket session bound to one recognizer channel.
//     Text messages carry JSON control requests and telephone events; binary
//     messages carry raw LPCM audio. Responses and events come back as JSON
//     text messages.
//   - GET /v1/completions: recent RECOGNITION-COMPLETE entries from the
//     journal, optionally filtered and full-text searched.
//   - GET /v1/status: channel counters.
//   - GET /healthz, GET /readyz, GET /metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/endpointd/internal/channel"
	"github.com/MrWong99/endpointd/internal/health"
	"github.com/MrWong99/endpointd/internal/journal"
	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/pkg/audio"
)

const (
	// writeTimeout bounds a single websocket write.
	writeTimeout = 5 * time.Second

	// closeTimeout bounds closing a channel after its session ended.
	closeTimeout = 15 * time.Second

	defaultReadLimit = 1 << 20
)

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithJournal enables GET /v1/completions.
func WithJournal(j journal.Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics, normally [observe.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics overrides the metrics the HTTP middleware records into.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithFrameBytes sets the size binary payloads are cut into. Default: one
// 10ms frame of 8 kHz mono LPCM (160 bytes).
func WithFrameBytes(n int) Option {
	return func(s *Server) { s.frameBytes = n }
}

// WithReadLimit caps the size of a single websocket message. Default: 1 MiB.
func WithReadLimit(n int64) Option {
	return func(s *Server) { s.readLimit = n }
}

// WithAcceptOptions sets the websocket handshake options (allowed origins,
// compression).
func WithAcceptOptions(o *websocket.AcceptOptions) Option {
	return func(s *Server) { s.acceptOpts = o }
}

// Server routes HTTP requests to the channel manager and the operational
// endpoints.
type Server struct {
	mgr            *channel.Manager
	journal        journal.Journal
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	frameBytes     int
	readLimit      int64
	acceptOpts     *websocket.AcceptOptions
}

// New returns a Server for mgr.
func New(mgr *channel.Manager, opts ...Option) *Server {
	s := &Server{
		mgr:        mgr,
		frameBytes: audio.Telephony.FrameBytes(audio.DefaultFrameDuration),
		readLimit:  defaultReadLimit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/channels", s.handleChannel)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	if s.journal != nil {
		mux.HandleFunc("GET /v1/completions", s.handleCompletions)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

type status struct {
	ActiveChannels int    `json:"active_channels"`
	OpenedChannels uint64 `json:"opened_channels"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, status{
		ActiveChannels: s.mgr.Active(),
		OpenedChannels: s.mgr.Opened(),
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// sinkContext bounds a sink write independently of the caller's lifetime.
func sinkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}
