package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/endpointd/internal/journal"
	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/internal/recog"
	"github.com/MrWong99/endpointd/pkg/audio"
)

// journalTimeout bounds a single journal write.
const journalTimeout = 5 * time.Second

// Option is a functional option shared by [NewChannel] and [NewManager].
type Option func(*settings)

type settings struct {
	journal   journal.Journal
	metrics   *observe.Metrics
	frameDur  time.Duration
	defaults  recog.Params
	queueSize int
}

func defaultSettings() settings {
	return settings{
		frameDur:  audio.DefaultFrameDuration,
		defaults:  recog.DefaultParams,
		queueSize: 64,
	}
}

// WithJournal records every RECOGNITION-COMPLETE in j.
func WithJournal(j journal.Journal) Option {
	return func(s *settings) { s.journal = j }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithFrameDuration sets the duration each audio frame represents.
// Default: [audio.DefaultFrameDuration].
func WithFrameDuration(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.frameDur = d
		}
	}
}

// WithDefaults sets the channel parameters a new channel starts with. They
// are what SET-PARAMS modifies and RECOGNIZE headers override.
func WithDefaults(p recog.Params) Option {
	return func(s *settings) { s.defaults = p }
}

// WithQueueSize sets the capacity of the manager's message queue.
// Default: 64.
func WithQueueSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Channel is one recognizer channel. Control requests and audio frames may
// arrive from different goroutines; every message they produce reaches the
// [Sink] in the order it was decided.
type Channel struct {
	id      string
	sink    Sink
	journal journal.Journal
	buf     *recog.Buffer

	// ctx bounds recognition hand-offs and journal writes; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	params   recog.Params
	grammars map[string]string
	active   *Request
	started  time.Time
	stop     *Message
	closed   bool
}

// NewChannel returns a channel with no active request whose recognition
// hand-offs go to rec and whose messages go to sink.
func NewChannel(id string, rec recog.Recognizer, sink Sink, opts ...Option) *Channel {
	s := defaultSettings()
	for _, o := range opts {
		o(&s)
	}
	return newChannel(id, rec, sink, s)
}

func newChannel(id string, rec recog.Recognizer, sink Sink, s settings) *Channel {
	bufOpts := []recog.Option{recog.WithID(id), recog.WithFrameDuration(s.frameDur)}
	if s.metrics != nil {
		bufOpts = append(bufOpts, recog.WithMetrics(s.metrics))
	}
	ctx, cancel := context.WithCancel(observe.WithChannel(context.Background(), id))
	return &Channel{
		id:       id,
		sink:     sink,
		journal:  s.journal,
		buf:      recog.New(rec, bufOpts...),
		ctx:      ctx,
		cancel:   cancel,
		params:   s.defaults,
		grammars: make(map[string]string),
	}
}

// ID returns the channel identifier.
func (c *Channel) ID() string { return c.id }

// Params returns the current channel parameters.
func (c *Channel) Params() recog.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Grammar returns the grammar stored under contentID by DEFINE-GRAMMAR.
func (c *Channel) Grammar(contentID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grammars[contentID]
	return g, ok
}

// ActiveRequest returns the id of the in-progress RECOGNIZE request.
func (c *Channel) ActiveRequest() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0, false
	}
	return c.active.ID, true
}

// Process handles one control request and sends its response to the sink.
// A STOP for an active request is answered on the next frame instead.
//
// The returned error reports a rejected request (the error response has
// already been sent) or a sink failure.
func (c *Channel) Process(ctx context.Context, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}

	resp, deferred, err := c.dispatch(req)
	if deferred {
		return err
	}
	if sendErr := c.send(ctx, resp); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return err
}

// dispatch applies req to the channel state. Callers must hold c.mu.
func (c *Channel) dispatch(req Request) (resp Message, deferred bool, err error) {
	resp = c.response(req, StatusOK, StateComplete)

	switch Method(strings.ToUpper(string(req.Method))) {
	case MethodSetParams:
		p, err := applyHeaders(c.params, req.Headers)
		if err != nil {
			return c.response(req, StatusIllegalValue, StateComplete), false, err
		}
		c.params = p
		slog.Debug("channel params set", "channel", c.id, "params", p)

	case MethodGetParams:
		resp.Headers = selectHeaders(paramHeaders(c.params), req.Headers)

	case MethodDefineGrammar:
		id := header(req.Headers, HeaderContentID)
		c.grammars[id] = req.Body
		slog.Debug("grammar defined", "channel", c.id, "content_id", id, "bytes", len(req.Body))

	case MethodRecognize:
		p, err := applyHeaders(c.params, req.Headers)
		if err != nil {
			return c.response(req, StatusIllegalValue, StateComplete), false, err
		}
		if c.active != nil {
			slog.Warn("recognize replaces active request", "channel", c.id, "request_id", c.active.ID, "new_request_id", req.ID)
		}
		c.buf.Prepare(p)
		r := req
		r.Headers = cloneHeaders(req.Headers)
		c.active = &r
		c.started = time.Now()
		c.stop = nil
		resp.State = StateInProgress
		slog.Info("recognition started", "channel", c.id, "request_id", req.ID, "timers", p.StartInputTimers)

	case MethodStartInputTimers:
		if c.active == nil {
			return c.response(req, StatusMethodNotValid, StateComplete), false, ErrNoActiveRequest
		}
		c.buf.StartInputTimers()

	case MethodStop:
		if c.active == nil {
			return resp, false, nil
		}
		resp.Headers = map[string]string{
			HeaderActiveRequestIDList: strconv.FormatUint(uint64(c.active.ID), 10),
		}
		c.stop = &resp
		slog.Info("stop requested", "channel", c.id, "request_id", c.active.ID)
		return resp, true, nil

	case MethodGetResult:
		slog.Debug("get-result acknowledged", "channel", c.id, "request_id", req.ID)

	default:
		slog.Warn("unknown method", "channel", c.id, "method", req.Method)
		return c.response(req, StatusMethodNotAllowed, StateComplete), false,
			fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
	return resp, false, nil
}

// WriteFrame feeds one frame of media. A pending STOP response is sent first
// and ends the request. Frames outside a RECOGNIZE request are ignored.
func (c *Channel) WriteFrame(ctx context.Context, f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}

	if c.stop != nil {
		m := *c.stop
		c.stop = nil
		c.active = nil
		return c.send(ctx, m)
	}
	if c.active == nil {
		return nil
	}

	if f.Kind == FrameEvent {
		switch f.Marker {
		case MarkerStartOfEvent:
			slog.Info("telephone event started", "channel", c.id, "event_id", f.EventID)
		case MarkerEndOfEvent:
			slog.Info("telephone event ended", "channel", c.id, "event_id", f.EventID, "duration", f.Duration)
		}
		return nil
	}

	out, err := c.buf.Step(c.ctx, f.Data)
	if err != nil {
		return fmt.Errorf("channel: write frame: %w", err)
	}

	switch out.Action {
	case recog.ActionStartOfInput:
		return c.send(ctx, c.event(EventStartOfInput, StateInProgress))
	case recog.ActionComplete:
		return c.complete(ctx, out)
	}
	return nil
}

// complete sends RECOGNITION-COMPLETE and ends the request. Callers must hold
// c.mu.
func (c *Channel) complete(ctx context.Context, out recog.Outcome) error {
	m := c.event(EventRecognitionComplete, StateComplete)
	m.Headers = map[string]string{
		HeaderCompletionCause: completionCause(out.Cause.Code(), out.Cause.String()),
	}
	if out.Cause == recog.CauseSuccess {
		m.Headers[HeaderContentType] = ContentTypeText
		m.Body = out.Text
	}

	entry := journal.Entry{
		ChannelID:   c.id,
		RequestID:   c.active.ID,
		Cause:       out.Cause.String(),
		Text:        out.Text,
		Elapsed:     time.Since(c.started),
		CompletedAt: time.Now(),
	}
	c.active = nil
	slog.Info("recognition complete", "channel", c.id, "request_id", entry.RequestID,
		"cause", entry.Cause, "elapsed", entry.Elapsed)
	c.record(entry)

	return c.send(ctx, m)
}

// record writes e to the journal without blocking the frame path.
func (c *Channel) record(e journal.Entry) {
	if c.journal == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), journalTimeout)
		defer cancel()
		if err := c.journal.Record(ctx, e); err != nil {
			slog.Error("journal record failed", "channel", c.id, "request_id", e.RequestID, "err", err)
		}
	}()
}

// Close cancels outstanding hand-offs, waits for them and for pending journal
// writes, and rejects any further request or frame. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.active = nil
	c.stop = nil
	c.mu.Unlock()

	c.cancel()
	c.buf.Wait()
	c.wg.Wait()
}

func (c *Channel) send(ctx context.Context, m Message) error {
	if err := c.sink.Send(ctx, m); err != nil {
		return fmt.Errorf("channel: send %s: %w", m.Name, err)
	}
	return nil
}

func (c *Channel) response(req Request, status int, state RequestState) Message {
	return Message{
		Kind:       KindResponse,
		ChannelID:  c.id,
		RequestID:  req.ID,
		Name:       string(req.Method),
		StatusCode: status,
		State:      state,
	}
}

// event builds an event for the active request. Callers must hold c.mu.
func (c *Channel) event(name string, state RequestState) Message {
	return Message{
		Kind:      KindEvent,
		ChannelID: c.id,
		RequestID: c.active.ID,
		Name:      name,
		State:     state,
	}
}

// header returns the value of name in h, matched case-insensitively.
func header(h map[string]string, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
