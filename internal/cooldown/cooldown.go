// Package cooldown models the time windows that gate pokes and reports.
package cooldown

import "time"

// Phase of a window relative to the last accepted action.
type Phase int

const (
	// Idle means no action was ever accepted; the next one may run immediately.
	Idle Phase = iota
	// Cooling means the minimum interval has not elapsed yet.
	Cooling
	// Ready means now is inside [last+Min, last+Max].
	Ready
	// Overdue means now is past last+Max.
	Overdue
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Cooling:
		return "cooling"
	case Ready:
		return "ready"
	case Overdue:
		return "overdue"
	default:
		return "unknown"
	}
}

// Window bounds the spacing of consecutive actions. A zero Max never becomes overdue.
type Window struct {
	Min time.Duration
	Max time.Duration
}

// State is the phase of a window at some instant.
type State struct {
	Phase Phase
	// OpensAt is last+Min; while Cooling it is the earliest accepted instant.
	OpensAt time.Time
	// DueAt is last+Max, zero when Max is zero.
	DueAt time.Time
}

// At evaluates the window for an action last accepted at last. The exact expiry instant is Ready.
func (w Window) At(last, now time.Time) State {
	if last.IsZero() {
		return State{Phase: Idle, OpensAt: now}
	}
	s := State{OpensAt: last.Add(w.Min)}
	if w.Max > 0 {
		s.DueAt = last.Add(w.Max)
	}
	switch {
	case now.Before(s.OpensAt):
		s.Phase = Cooling
	case w.Max > 0 && now.After(s.DueAt):
		s.Phase = Overdue
	default:
		s.Phase = Ready
	}
	return s
}

// CanAct reports whether an action is not blocked by the minimum interval.
func (s State) CanAct() bool {
	return s.Phase != Cooling
}

// Remaining returns how long until the window opens, zero when it is open.
func (s State) Remaining(now time.Time) time.Duration {
	if s.Phase != Cooling {
		return 0
	}
	return s.OpensAt.Sub(now)
}
