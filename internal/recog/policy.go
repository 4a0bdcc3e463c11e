package recog

import (
	"context"

	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/pkg/endpoint"
)

// Action is what the caller must do after a frame was handled.
type Action int

const (
	// ActionNone means keep streaming frames.
	ActionNone Action = iota

	// ActionStartOfInput means speech onset was detected for the first time
	// in this request and a START-OF-INPUT notification is due.
	ActionStartOfInput

	// ActionComplete means the request is finished; [Outcome.Cause] and
	// [Outcome.Text] describe the RECOGNITION-COMPLETE notification.
	ActionComplete
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStartOfInput:
		return "start-of-input"
	case ActionComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Cause is the completion cause of a finished request.
type Cause int

const (
	CauseSuccess Cause = iota
	CauseNoInputTimeout
)

// String returns the completion cause as used in notifications and metrics.
func (c Cause) String() string {
	switch c {
	case CauseSuccess:
		return "success"
	case CauseNoInputTimeout:
		return "no-input-timeout"
	default:
		return "unknown"
	}
}

// Code returns the MRCP completion-cause code.
func (c Cause) Code() int {
	switch c {
	case CauseNoInputTimeout:
		return 2
	default:
		return 0
	}
}

// Outcome is the decision taken for one frame.
type Outcome struct {
	Action Action
	Cause  Cause
	Text   string
}

// Handle applies the event policy to ev:
//
//   - Activity raises start-of-input once per request.
//   - Inactivity and DurationTimeout hand the buffered speech off.
//   - NoInput completes the request with a no-input timeout.
//   - Recognizing polls the hand-off; a non-empty result completes the
//     request, an empty one resumes writing.
func (b *Buffer) Handle(ctx context.Context, ev endpoint.Event) Outcome {
	switch ev.Type {
	case endpoint.EventActivity:
		if b.InputStarted() {
			return Outcome{}
		}
		b.MarkInputStarted()
		observe.Logger(ctx).Info("start of input")
		return Outcome{Action: ActionStartOfInput}

	case endpoint.EventInactivity:
		b.Recognize(ctx, ev.Duration)

	case endpoint.EventDurationTimeout:
		b.Recognize(ctx, b.DurationTimeout())

	case endpoint.EventNoInput:
		observe.Logger(ctx).Info("no input detected")
		return b.complete(ctx, CauseNoInputTimeout, "")

	case endpoint.EventRecognizing:
		text, ok := b.LoadResult()
		if !ok {
			return Outcome{}
		}
		if text == "" {
			b.RestartWriting()
			return Outcome{}
		}
		return b.complete(ctx, CauseSuccess, text)
	}
	return Outcome{}
}

// Step writes frame and handles the resulting event.
func (b *Buffer) Step(ctx context.Context, frame []byte) (Outcome, error) {
	if _, err := b.Write(frame); err != nil {
		return Outcome{}, err
	}
	return b.Handle(ctx, b.DetectorEvent()), nil
}

func (b *Buffer) complete(ctx context.Context, cause Cause, text string) Outcome {
	b.metrics.RecordCompletion(ctx, cause.String())
	return Outcome{Action: ActionComplete, Cause: cause, Text: text}
}
