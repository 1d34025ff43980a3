// Package autosave evaluates session inactivity and periodic draft saves.
//
// Nothing runs in the background. Every interaction carries the current time
// and the stored activity timestamps; the decision is derived from those
// alone, so a request arriving after a long pause sees the same outcome a
// timer would have produced.
package autosave

import "time"

type State int

const (
	Continue State = iota
	Warn
	Expire
)

func (s State) String() string {
	switch s {
	case Warn:
		return "warn"
	case Expire:
		return "expire"
	default:
		return "continue"
	}
}

// Policy holds the inactivity thresholds. WarnAfter must be below IdleTimeout.
type Policy struct {
	IdleTimeout      time.Duration
	WarnAfter        time.Duration
	AutosaveInterval time.Duration
}

// SessionState is the subset of session timestamps the policy looks at.
type SessionState struct {
	LastActivityAt time.Time
	LastAutosaveAt time.Time
}

type Decision struct {
	State       State
	AutosaveDue bool
	// IdleFor is how long the session has gone without a qualifying interaction.
	IdleFor time.Duration
	// ExpiresIn is the time left before the idle timeout, zero once expired.
	ExpiresIn time.Duration
}

// Evaluate applies the policy at now. Both thresholds are inclusive.
func (p Policy) Evaluate(state SessionState, now time.Time) Decision {
	idle := now.Sub(state.LastActivityAt)
	if idle < 0 {
		idle = 0
	}
	d := Decision{IdleFor: idle}

	switch {
	case idle >= p.IdleTimeout:
		d.State = Expire
		return d
	case p.WarnAfter > 0 && idle >= p.WarnAfter:
		d.State = Warn
	default:
		d.State = Continue
	}
	d.ExpiresIn = p.IdleTimeout - idle

	if p.AutosaveInterval > 0 && now.Sub(state.LastAutosaveAt) >= p.AutosaveInterval {
		d.AutosaveDue = true
	}
	return d
}
