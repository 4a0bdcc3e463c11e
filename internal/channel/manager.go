package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/internal/recog"
)

type opKind int

const (
	opOpen opKind = iota
	opClose
	opRequest
)

// op is one message for the manager's consumer goroutine.
type op struct {
	kind  opKind
	id    string
	sink  Sink
	req   Request
	reply chan opResult
}

type opResult struct {
	ch  *Channel
	err error
}

// Manager owns every open channel. Open, close and control requests are
// queued and applied one at a time by [Manager.Run]; frames bypass the queue
// and go straight to [Channel.WriteFrame].
//
// All exported methods are safe for concurrent use.
type Manager struct {
	rec recog.Recognizer
	cfg settings

	ops     chan op
	running atomic.Bool
	stopped chan struct{}
	once    sync.Once

	mu       sync.RWMutex
	channels map[string]*Channel
	defaults recog.Params
	opened   uint64
}

// NewManager returns a manager whose channels hand utterances to rec. Call
// [Manager.Run] to start processing.
func NewManager(rec recog.Recognizer, opts ...Option) *Manager {
	cfg := defaultSettings()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	return &Manager{
		rec:      rec,
		cfg:      cfg,
		ops:      make(chan op, cfg.queueSize),
		stopped:  make(chan struct{}),
		channels: make(map[string]*Channel),
		defaults: cfg.defaults,
	}
}

// Run consumes queued messages until ctx is cancelled, then closes every
// remaining channel. It must be called at most once.
func (m *Manager) Run(ctx context.Context) error {
	m.running.Store(true)
	defer m.once.Do(func() { close(m.stopped) })
	defer m.running.Store(false)

	slog.Info("channel manager started")
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			slog.Info("channel manager stopped", "opened", m.Opened())
			return nil
		case o := <-m.ops:
			o.reply <- m.apply(ctx, o)
		}
	}
}

func (m *Manager) apply(ctx context.Context, o op) opResult {
	switch o.kind {
	case opOpen:
		m.mu.Lock()
		m.opened++
		id := fmt.Sprintf("ch-%06d", m.opened)
		s := m.cfg
		s.defaults = m.defaults
		ch := newChannel(id, m.rec, o.sink, s)
		m.channels[id] = ch
		m.mu.Unlock()

		m.cfg.metrics.ActiveChannels.Add(ctx, 1)
		slog.Info("channel opened", "channel", id)
		return opResult{ch: ch}

	case opClose:
		m.mu.Lock()
		ch, ok := m.channels[o.id]
		delete(m.channels, o.id)
		m.mu.Unlock()
		if !ok {
			return opResult{err: fmt.Errorf("%w: %s", ErrChannelNotFound, o.id)}
		}
		m.cfg.metrics.ActiveChannels.Add(ctx, -1)
		slog.Info("channel closed", "channel", o.id)
		return opResult{ch: ch}

	case opRequest:
		ch, ok := m.Get(o.id)
		if !ok {
			return opResult{err: fmt.Errorf("%w: %s", ErrChannelNotFound, o.id)}
		}
		return opResult{ch: ch, err: ch.Process(ctx, o.req)}
	}
	return opResult{err: fmt.Errorf("channel: unknown op %d", o.kind)}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	chans := make([]*Channel, 0, len(m.channels))
	for id, ch := range m.channels {
		chans = append(chans, ch)
		delete(m.channels, id)
	}
	m.mu.Unlock()

	for _, ch := range chans {
		m.cfg.metrics.ActiveChannels.Add(context.Background(), -1)
		ch.Close()
	}
}

// do queues o and waits for its result.
func (m *Manager) do(ctx context.Context, o op) (opResult, error) {
	if !m.running.Load() {
		return opResult{}, ErrManagerNotRunning
	}
	o.reply = make(chan opResult, 1)
	select {
	case m.ops <- o:
	case <-m.stopped:
		return opResult{}, ErrManagerNotRunning
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	}
	select {
	case r := <-o.reply:
		return r, nil
	case <-m.stopped:
		return opResult{}, ErrManagerNotRunning
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	}
}

// Open creates a channel whose messages go to sink.
func (m *Manager) Open(ctx context.Context, sink Sink) (*Channel, error) {
	r, err := m.do(ctx, op{kind: opOpen, sink: sink})
	if err != nil {
		return nil, fmt.Errorf("channel: open: %w", err)
	}
	return r.ch, nil
}

// Close removes the channel and waits for its outstanding work.
func (m *Manager) Close(ctx context.Context, id string) error {
	r, err := m.do(ctx, op{kind: opClose, id: id})
	if err == nil {
		err = r.err
	}
	if err != nil {
		return fmt.Errorf("channel: close: %w", err)
	}
	// Outside the consumer: waiting for hand-offs must not stall other channels.
	r.ch.Close()
	return nil
}

// Submit queues a control request for the channel. The error is the one
// returned by [Channel.Process].
func (m *Manager) Submit(ctx context.Context, id string, req Request) error {
	r, err := m.do(ctx, op{kind: opRequest, id: id, req: req})
	if err == nil {
		err = r.err
	}
	if err != nil {
		return fmt.Errorf("channel: submit %s: %w", req.Method, err)
	}
	return nil
}

// Get returns the open channel with the given id.
func (m *Manager) Get(id string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// Active returns the number of open channels.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Opened returns the number of channels opened since start.
func (m *Manager) Opened() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opened
}

// SetDefaults replaces the parameters new channels start with. Open channels
// keep theirs.
func (m *Manager) SetDefaults(p recog.Params) {
	m.mu.Lock()
	m.defaults = p
	m.mu.Unlock()
	slog.Info("channel defaults updated", "params", p)
}

// Defaults returns the parameters new channels start with.
func (m *Manager) Defaults() recog.Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults
}

// Check reports whether the consumer goroutine is running. It satisfies the
// readiness checker signature used by the health package.
func (m *Manager) Check(_ context.Context) error {
	if !m.running.Load() {
		return ErrManagerNotRunning
	}
	return nil
}
