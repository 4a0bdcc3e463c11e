package endpoint

import (
	"fmt"
	"time"
)

// EventType enumerates the signals a [Detector] or a recognition buffer can
// raise for a single audio frame.
type EventType int

const (
	// EventNone means nothing noteworthy happened on this frame.
	EventNone EventType = iota

	// EventActivity marks speech onset.
	EventActivity

	// EventInactivity marks speech offset. [Event.Duration] carries the
	// accumulated activity duration of the closed span.
	EventInactivity

	// EventNoInput is returned for every frame once the detector is exhausted.
	EventNoInput

	// EventDurationTimeout is raised on the frame that consumed the maximum
	// duration budget.
	EventDurationTimeout

	// EventRecognizing is never produced by the detector itself. Buffers
	// report it while an utterance hand-off is awaiting its result.
	EventRecognizing
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventActivity:
		return "activity"
	case EventInactivity:
		return "inactivity"
	case EventNoInput:
		return "no-input"
	case EventDurationTimeout:
		return "duration-timeout"
	case EventRecognizing:
		return "recognizing"
	default:
		return "unknown"
	}
}

// Event is the result of processing one audio frame.
type Event struct {
	// Type is the kind of event.
	Type EventType

	// Duration is only meaningful for [EventInactivity].
	Duration time.Duration
}

// String formats the event for logs, e.g. "inactivity(150ms)".
func (e Event) String() string {
	if e.Type == EventInactivity {
		return fmt.Sprintf("%s(%s)", e.Type, e.Duration)
	}
	return e.Type.String()
}

// State is the endpointing state of a [Detector].
type State int

const (
	StateInactivity State = iota
	StateActivityTransition
	StateActivity
	StateInactivityTransition

	// StateExhausted is terminal: the maximum duration budget is spent.
	StateExhausted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateInactivity:
		return "inactivity"
	case StateActivityTransition:
		return "activity-transition"
	case StateActivity:
		return "activity"
	case StateInactivityTransition:
		return "inactivity-transition"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
