package cycle

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a Runner.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Event drives a state transition.
type Event string

const (
	EventStart  Event = "start"
	EventPause  Event = "pause"
	EventResume Event = "resume"
	EventFail   Event = "fail"
	EventStop   Event = "stop"
)

// ErrInvalidTransition is returned when an event is not allowed in the
// current state.
var ErrInvalidTransition = errors.New("transition not allowed")

type transition struct {
	from  State
	event Event
}

var transitions = map[transition]State{
	{StateIdle, EventStart}:    StateRunning,
	{StateStopped, EventStart}: StateRunning,
	{StateRunning, EventPause}: StatePaused,
	{StatePaused, EventResume}: StateRunning,
	{StateRunning, EventFail}:  StateStopped,
	{StatePaused, EventFail}:   StateStopped,
	{StateRunning, EventStop}:  StateStopped,
	{StatePaused, EventStop}:   StateStopped,
}

// Next returns the state reached from s on e. The boolean is false, and s is
// returned unchanged, when the transition is not allowed.
func Next(s State, e Event) (State, bool) {
	to, ok := transitions[transition{s, e}]
	if !ok {
		return s, false
	}
	return to, true
}

func transitionError(s State, e Event) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, e, s)
}

// SystemStatus is the coarse status shown to observers.
type SystemStatus string

const (
	SystemIdle    SystemStatus = "idle"
	SystemRunning SystemStatus = "running"
	SystemPaused  SystemStatus = "paused"
	SystemError   SystemStatus = "error"
)

func systemStatus(s State, failed bool) SystemStatus {
	switch s {
	case StateRunning:
		return SystemRunning
	case StatePaused:
		return SystemPaused
	case StateStopped:
		if failed {
			return SystemError
		}
	}
	return SystemIdle
}
