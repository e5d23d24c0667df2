// Package statemachine holds the recorder lifecycle states and the rules
// for moving between them. It is not safe for concurrent use; the owner
// serializes access.
package statemachine

import (
	"fmt"
	"time"
)

// State is the recorder lifecycle state.
type State int

const (
	StateUnknown State = iota
	StateReadyToRecord
	StateRecording
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateReadyToRecord:
		return "ready_to_record"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether a session is in progress (recording or paused).
func (s State) Active() bool {
	return s == StateRecording || s == StatePaused
}

// Transition describes the effect of one operation.
type Transition struct {
	From State
	To   State
}

// Changed reports whether the operation moved the state.
func (t Transition) Changed() bool { return t.From != t.To }

// Resumed reports whether the operation continued a paused session.
func (t Transition) Resumed() bool { return t.From == StatePaused && t.To == StateRecording }

// StateMachine tracks the recorder state and the session clock.
type StateMachine struct {
	state       State
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	now         func() time.Time
}

// NewStateMachine creates a state machine in StateUnknown.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateUnknown, now: time.Now}
}

// Prepare marks the recorder armed. Only meaningful from StateUnknown.
func (sm *StateMachine) Prepare() Transition {
	t := Transition{From: sm.state, To: sm.state}
	if sm.state == StateUnknown {
		sm.state = StateReadyToRecord
		t.To = sm.state
	}
	return t
}

// Record starts a session or resumes a paused one. Idempotent while
// recording.
func (sm *StateMachine) Record() Transition {
	t := Transition{From: sm.state, To: StateRecording}
	switch sm.state {
	case StateRecording:
	case StatePaused:
		sm.pausedTotal += sm.now().Sub(sm.pausedAt)
		sm.pausedAt = time.Time{}
	default:
		sm.startedAt = sm.now()
		sm.pausedTotal = 0
	}
	sm.state = StateRecording
	return t
}

// Pause suspends a recording session.
func (sm *StateMachine) Pause() (Transition, error) {
	t := Transition{From: sm.state, To: sm.state}
	switch sm.state {
	case StatePaused:
		return t, nil
	case StateRecording:
		sm.state = StatePaused
		sm.pausedAt = sm.now()
		t.To = sm.state
		return t, nil
	default:
		return t, fmt.Errorf("cannot pause while %s", sm.state)
	}
}

// Stop ends the session. A no-op unless recording or paused.
func (sm *StateMachine) Stop() Transition {
	t := Transition{From: sm.state, To: sm.state}
	if !sm.state.Active() {
		return t
	}
	sm.reset()
	t.To = sm.state
	return t
}

// Fail aborts the session after a writer failure.
func (sm *StateMachine) Fail() Transition {
	t := Transition{From: sm.state}
	sm.reset()
	t.To = sm.state
	return t
}

func (sm *StateMachine) reset() {
	sm.state = StateReadyToRecord
	sm.startedAt = time.Time{}
	sm.pausedAt = time.Time{}
	sm.pausedTotal = 0
}

// State returns the current state.
func (sm *StateMachine) State() State {
	return sm.state
}

// IsRecording reports whether frames should currently be written.
func (sm *StateMachine) IsRecording() bool {
	return sm.state == StateRecording
}

// StartedAt returns the wall-clock start of the current session.
func (sm *StateMachine) StartedAt() time.Time {
	return sm.startedAt
}

// RecordingDuration returns how long the current session has been
// recording, excluding time spent paused.
func (sm *StateMachine) RecordingDuration() time.Duration {
	if !sm.state.Active() {
		return 0
	}
	end := sm.now()
	if sm.state == StatePaused {
		end = sm.pausedAt
	}
	return end.Sub(sm.startedAt) - sm.pausedTotal
}
