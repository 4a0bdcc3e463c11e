// Package channel implements the recognizer channel a media gateway drives:
// MRCP-style control requests (RECOGNIZE, STOP, START-INPUT-TIMERS, ...), a
// strictly ordered audio frame path, and the responses and events sent back.
//
// A [Manager] owns all open channels and serialises control messages on a
// single consumer goroutine; audio frames are written to a [Channel] directly
// by the goroutine that owns the media stream.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by [Channel.Process] and the [Manager].
var (
	ErrUnknownMethod     = errors.New("channel: unknown method")
	ErrNoActiveRequest   = errors.New("channel: no active recognition request")
	ErrIllegalValue      = errors.New("channel: illegal header value")
	ErrChannelNotFound   = errors.New("channel: not found")
	ErrChannelClosed     = errors.New("channel: closed")
	ErrManagerNotRunning = errors.New("channel: manager not running")
)

// Method is an MRCP recognizer method name.
type Method string

const (
	MethodSetParams        Method = "SET-PARAMS"
	MethodGetParams        Method = "GET-PARAMS"
	MethodDefineGrammar    Method = "DEFINE-GRAMMAR"
	MethodRecognize        Method = "RECOGNIZE"
	MethodGetResult        Method = "GET-RESULT"
	MethodStartInputTimers Method = "START-INPUT-TIMERS"
	MethodStop             Method = "STOP"
)

// Event names sent by a channel.
const (
	EventStartOfInput        = "START-OF-INPUT"
	EventRecognitionComplete = "RECOGNITION-COMPLETE"
)

// Status codes used in responses.
const (
	StatusOK               = 200
	StatusMethodNotAllowed = 401
	StatusMethodNotValid   = 402
	StatusIllegalValue     = 404
)

// Header names understood by RECOGNIZE, SET-PARAMS and GET-PARAMS, plus the
// headers a channel sets on outgoing messages.
const (
	HeaderStartInputTimers      = "Start-Input-Timers"
	HeaderNoInputTimeout        = "No-Input-Timeout"
	HeaderSpeechCompleteTimeout = "Speech-Complete-Timeout"
	HeaderRecognitionTimeout    = "Recognition-Timeout"
	HeaderSensitivityLevel      = "Sensitivity-Level"
	HeaderCompletionCause       = "Completion-Cause"
	HeaderContentType           = "Content-Type"
	HeaderContentID             = "Content-Id"
	HeaderActiveRequestIDList   = "Active-Request-Id-List"
)

// ContentTypeText is the content type of a recognition result body.
const ContentTypeText = "text/plain; charset=UTF-8"

// RequestState is the state carried by a response or event.
type RequestState string

const (
	StatePending    RequestState = "PENDING"
	StateInProgress RequestState = "IN-PROGRESS"
	StateComplete   RequestState = "COMPLETE"
)

// Request is a control request addressed to a channel.
type Request struct {
	ID      uint32            `json:"request_id"`
	Method  Method            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// MessageKind distinguishes responses from asynchronous events.
type MessageKind string

const (
	KindResponse MessageKind = "response"
	KindEvent    MessageKind = "event"
)

// Message is a response or event produced by a channel. Name is the method
// for responses and the event name for events.
type Message struct {
	Kind       MessageKind       `json:"type"`
	ChannelID  string            `json:"channel_id"`
	RequestID  uint32            `json:"request_id"`
	Name       string            `json:"name"`
	StatusCode int               `json:"status_code,omitempty"`
	State      RequestState      `json:"request_state"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// Sink receives every message a channel produces, in order.
type Sink interface {
	Send(ctx context.Context, m Message) error
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, m Message) error

// Send calls f(ctx, m).
func (f SinkFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// FrameKind distinguishes audio from telephone-event frames.
type FrameKind int

const (
	FrameAudio FrameKind = iota
	FrameEvent
)

// Marker flags the boundary of a telephone event (DTMF digit).
type Marker int

const (
	MarkerNone Marker = iota
	MarkerStartOfEvent
	MarkerEndOfEvent
)

// Frame is one unit of media delivered to [Channel.WriteFrame].
type Frame struct {
	Kind FrameKind

	// Data is the LPCM payload of an audio frame.
	Data []byte

	// Marker, EventID and Duration describe an event frame.
	Marker   Marker
	EventID  int
	Duration time.Duration
}

// completionCause formats the Completion-Cause header value, e.g.
// "000 success".
func completionCause(code int, name string) string {
	return fmt.Sprintf("%03d %s", code, name)
}
