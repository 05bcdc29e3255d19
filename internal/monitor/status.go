// Package monitor keeps the engine's view of which games are running.
//
// A Poller fetches the process monitor's status collection at an adaptive
// interval and hands every successful result to a Machine, which replaces
// its collection wholesale and re-derives the two user prompts (end-of-
// session confirmation and resume confirmation) from it. Neither type holds
// authoritative session state: the process monitor does, and user commands
// are forwarded to it through a SessionController.
package monitor

import "fmt"

// Status is one tracked game's monitoring record, as produced by a single
// poll. Collections of Status are replaced wholesale each cycle.
type Status struct {
	GameID                  string `json:"game_id"`
	GameTitle               string `json:"game_title"`
	ProcessLabel            string `json:"process_label"`
	IsRunning               bool   `json:"is_running"`
	PlaySeconds             int64  `json:"play_seconds"`
	IsPaused                bool   `json:"is_paused"`
	NeedsEndConfirmation    bool   `json:"needs_end_confirmation"`
	NeedsResumeConfirmation bool   `json:"needs_resume_confirmation"`
}

// SessionState is the lifecycle state of one game, derived from a Status.
type SessionState int

// Session lifecycle states.
const (
	StateIdle SessionState = iota
	StatePlaying
	StatePaused
	StateNeedsEndConfirmation
	StateNeedsResumeConfirmation
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateNeedsEndConfirmation:
		return "needs_end_confirmation"
	case StateNeedsResumeConfirmation:
		return "needs_resume_confirmation"
	default:
		return "unknown"
	}
}

// MarshalText lets SessionState serialize as its string form.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the string form.
func (s *SessionState) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateNeedsResumeConfirmation; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}

	return fmt.Errorf("monitor: unknown session state %q", b)
}

// State derives the lifecycle state. End confirmation wins over everything;
// a resume flag only counts while the record is also paused.
func (s Status) State() SessionState {
	switch {
	case s.NeedsEndConfirmation:
		return StateNeedsEndConfirmation
	case s.needsResume():
		return StateNeedsResumeConfirmation
	case s.IsPaused:
		return StatePaused
	case s.IsRunning:
		return StatePlaying
	default:
		return StateIdle
	}
}

// Active reports whether the record keeps the poller on its fast interval.
func (s Status) Active() bool {
	return s.IsRunning || s.IsPaused || s.NeedsEndConfirmation
}

func (s Status) needsEnd() bool {
	return s.NeedsEndConfirmation
}

func (s Status) needsResume() bool {
	return s.NeedsResumeConfirmation && s.IsPaused
}

// HasActive reports whether any record in the collection is active.
func HasActive(statuses []Status) bool {
	for i := range statuses {
		if statuses[i].Active() {
			return true
		}
	}

	return false
}
