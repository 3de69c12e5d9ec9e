package session

// TimerWheel tracks countdown timers for the host backend. It is advanced
// by the frame loop with explicit time deltas, so it works the same under
// real time, fast-forwarded tests and paused games.
type TimerWheel struct {
	entries []timerEntry
}

type timerEntry struct {
	id        uint16
	remaining float64
}

// NewTimerWheel creates an empty wheel.
func NewTimerWheel() *TimerWheel {
	return &TimerWheel{}
}

// Set starts a timer. An existing timer with the same id is replaced, which
// also moves it behind all currently pending timers.
func (t *TimerWheel) Set(id uint16, duration float64) {
	t.Cancel(id)
	t.entries = append(t.entries, timerEntry{id: id, remaining: duration})
}

// Cancel removes a timer if it is still pending.
func (t *TimerWheel) Cancel(id uint16) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}

// Tick advances all timers by delta seconds and returns the ids that ran
// out, in insertion order. Expired timers are removed; they fire once.
func (t *TimerWheel) Tick(delta float64) []uint16 {
	var expired []uint16
	kept := t.entries[:0]
	for i := range t.entries {
		t.entries[i].remaining -= delta
		if t.entries[i].remaining <= 0 {
			expired = append(expired, t.entries[i].id)
		} else {
			kept = append(kept, t.entries[i])
		}
	}
	t.entries = kept
	return expired
}
