// Package endpoint implements the per-utterance endpointing state machine used
// to locate speech onset and offset in a stream of fixed-duration 8 kHz LPCM
// frames.
//
// The [Detector] is driven by frame count, buffered byte volume, and elapsed
// duration. It does not inspect sample amplitudes: the sensitivity values it
// carries are configuration reserved for amplitude-based triggering and do not
// influence any transition today.
//
// A Detector is not safe for concurrent use. Frames for one utterance must be
// delivered sequentially in arrival order.
package endpoint

import "time"

const (
	// MaxSpeechBytes is the buffered speech volume above which an active span
	// is forcibly closed, bounding the size of a single recognition request.
	MaxSpeechBytes = 16000

	// MaxOutSensitivity caps the derived "out" sensitivity.
	MaxOutSensitivity = 1200

	defaultInSensitivity  = 32
	defaultOutSensitivity = 512
)

// Config holds the timing budgets of one utterance.
type Config struct {
	// TimersStarted enables no-input accounting from the start.
	TimersStarted bool

	// SpeechOnset is the speech-onset threshold.
	SpeechOnset time.Duration

	// Silence is the silence threshold that ends an utterance.
	Silence time.Duration

	// NoInput is the budget allowed to elapse before any speech is detected.
	NoInput time.Duration

	// MaxDuration caps the total processed duration of the utterance. Once it
	// is reached the detector becomes [StateExhausted].
	MaxDuration time.Duration
}

// Detector is the endpointing finite-state machine for a single utterance.
// Create one per recognition request with [New].
type Detector struct {
	speech []byte

	speechOnset time.Duration
	silence     time.Duration

	timersStarted bool
	inputStarted  bool

	noInput     time.Duration
	maxDuration time.Duration

	activity time.Duration
	total    time.Duration

	inSensitivity  int
	outSensitivity int

	state State
}

// New returns a Detector in [StateInactivity] configured with cfg.
func New(cfg Config) *Detector {
	return &Detector{
		speechOnset:    cfg.SpeechOnset,
		silence:        cfg.Silence,
		timersStarted:  cfg.TimersStarted,
		noInput:        cfg.NoInput,
		maxDuration:    cfg.MaxDuration,
		inSensitivity:  defaultInSensitivity,
		outSensitivity: defaultOutSensitivity,
		state:          StateInactivity,
	}
}

// SetSensitivity maps mode in [0, 1] to the in/out sensitivity pair. Values
// outside the range (including NaN) are treated as 1.0.
func (d *Detector) SetSensitivity(mode float64) {
	if !(mode >= 0 && mode <= 1) {
		mode = 1
	}
	d.inSensitivity = int(mode * 100)
	d.outSensitivity = min(d.inSensitivity<<4, MaxOutSensitivity)
}

// Sensitivity returns the derived in (0–100) and out (capped at
// [MaxOutSensitivity]) sensitivity values.
func (d *Detector) Sensitivity() (in, out int) {
	return d.inSensitivity, d.outSensitivity
}

// Process advances the state machine by one frame of the given duration and
// returns the event raised for it. At most one event is raised per call and
// [EventDurationTimeout] takes precedence over any transition event.
func (d *Detector) Process(frame []byte, duration time.Duration) Event {
	var ev Event
	switch d.state {
	case StateInactivity:
		d.state = StateActivityTransition
	case StateActivityTransition:
		d.activity = duration
		d.state = StateActivity
		ev = Event{Type: EventActivity}
	case StateActivity:
		d.activity += duration
		d.speech = append(d.speech, frame...)
		if len(d.speech) > MaxSpeechBytes {
			d.state = StateInactivityTransition
		}
	case StateInactivityTransition:
		// The boundary frame belongs to the closed span.
		d.speech = append(d.speech, frame...)
		d.state = StateInactivity
		ev = Event{Type: EventInactivity, Duration: d.activity}
	case StateExhausted:
		return Event{Type: EventNoInput}
	}

	d.total += duration
	if d.total >= d.maxDuration {
		d.state = StateExhausted
		ev = Event{Type: EventDurationTimeout}
	}
	return ev
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// TotalDuration returns the duration processed so far.
func (d *Detector) TotalDuration() time.Duration { return d.total }

// MaxDuration returns the configured maximum duration budget.
func (d *Detector) MaxDuration() time.Duration { return d.maxDuration }

// SpeechOnset returns the configured speech-onset threshold.
func (d *Detector) SpeechOnset() time.Duration { return d.speechOnset }

// Silence returns the configured silence threshold.
func (d *Detector) Silence() time.Duration { return d.silence }

// SpeechLen returns the number of buffered speech bytes.
func (d *Detector) SpeechLen() int { return len(d.speech) }

// TakeSpeech moves the buffered speech out of the detector. The detector keeps
// an empty buffer afterwards.
func (d *Detector) TakeSpeech() []byte {
	s := d.speech
	d.speech = nil
	if s == nil {
		return []byte{}
	}
	return s
}

// StartTimers enables no-input accounting. Idempotent.
func (d *Detector) StartTimers() { d.timersStarted = true }

// TimersStarted reports whether no-input accounting is enabled.
func (d *Detector) TimersStarted() bool { return d.timersStarted }

// MarkInputStarted records that speech onset was observed. Idempotent.
func (d *Detector) MarkInputStarted() { d.inputStarted = true }

// ClearInputStarted forgets a recorded speech onset.
func (d *Detector) ClearInputStarted() { d.inputStarted = false }

// InputStarted reports whether speech onset was recorded.
func (d *Detector) InputStarted() bool { return d.inputStarted }

// NoInputRemaining returns what is left of the no-input budget.
func (d *Detector) NoInputRemaining() time.Duration { return d.noInput }

// DecreaseNoInput subtracts elapsed from the no-input budget, clamping at
// zero. It is a no-op until timers are started.
func (d *Detector) DecreaseNoInput(elapsed time.Duration) {
	if !d.timersStarted {
		return
	}
	if elapsed > d.noInput {
		d.noInput = 0
		return
	}
	d.noInput -= elapsed
}
