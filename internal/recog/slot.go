package recog

// slot is the one-shot result cell of a single hand-off. The recognition task
// is the only writer and sends at most once before closing; the frame path is
// the only reader and never blocks.
type slot chan string

func newSlot() slot { return make(slot, 1) }

// deliver stores text and closes the slot.
func (s slot) deliver(text string) {
	s <- text
	close(s)
}

// poll reports the slot state without blocking. ready is false while the
// task is still running; broken is true when the task ended without
// delivering a value, or the value was already consumed.
func (s slot) poll() (text string, ready, broken bool) {
	select {
	case v, ok := <-s:
		if !ok {
			return "", true, true
		}
		return v, true, false
	default:
		return "", false, false
	}
}
