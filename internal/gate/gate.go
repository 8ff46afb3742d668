// Package gate implements the system gate: a small state machine driven by
// held hand gestures that decides whether posture monitoring is running.
package gate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the system gate state.
type State string

const (
	WaitingForStart  State = "WAITING_FOR_START" // Initial; waiting for a held thumbs up
	ActiveMonitoring State = "ACTIVE_MONITORING" // Posture frames are processed
	Paused           State = "PAUSED"            // Held thumbs down; resumes on timer or thumbs up
)

// Command is a remote control request.
type Command string

const (
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
)

// ErrUnknownCommand is returned by ParseCommand for anything other than
// start, stop, pause and resume.
var ErrUnknownCommand = errors.New("unknown gate command")

// ParseCommand normalises s into a Command.
func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ToLower(strings.TrimSpace(s))); c {
	case CommandStart, CommandStop, CommandPause, CommandResume:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Machine is the gate. It is not safe for concurrent use.
type Machine struct {
	pauseDuration time.Duration
	state         State
	pauseStart    time.Time // set only while Paused
}

// NewMachine returns a gate in WaitingForStart. pauseDuration bounds how
// long a pause lasts before monitoring resumes on its own.
func NewMachine(pauseDuration time.Duration) *Machine {
	return &Machine{pauseDuration: pauseDuration, state: WaitingForStart}
}

// Update evaluates at most one transition from the held gesture flags. It
// returns the resulting state, a status message and whether the state
// changed.
func (m *Machine) Update(heldUp, heldDown bool, now time.Time) (State, string, bool) {
	switch m.state {
	case WaitingForStart:
		if heldUp {
			m.activate()
			return m.state, "Thumbs up held. Monitoring started.", true
		}

	case ActiveMonitoring:
		if heldDown {
			m.pause(now)
			return m.state, fmt.Sprintf("Thumbs down held. Monitoring paused for %s.", m.pauseDuration), true
		}

	case Paused:
		if heldUp {
			m.activate()
			return m.state, "Thumbs up held. Monitoring resumed.", true
		}
		if now.Sub(m.pauseStart) >= m.pauseDuration {
			m.activate()
			return m.state, fmt.Sprintf("Pause period (%s) expired. Monitoring resumed.", m.pauseDuration), true
		}
	}
	return m.state, "", false
}

// Apply executes a remote command with the same result shape as Update.
// Commands that do not apply to the current state, and unknown commands,
// report no change.
func (m *Machine) Apply(cmd Command, now time.Time) (State, string, bool) {
	switch cmd {
	case CommandStart, CommandResume:
		if m.state == ActiveMonitoring {
			break
		}
		m.activate()
		return m.state, fmt.Sprintf("Remote %s. Monitoring active.", cmd), true

	case CommandPause:
		if m.state != ActiveMonitoring {
			break
		}
		m.pause(now)
		return m.state, fmt.Sprintf("Remote pause. Monitoring paused for %s.", m.pauseDuration), true

	case CommandStop:
		if m.state == WaitingForStart {
			break
		}
		m.state = WaitingForStart
		m.pauseStart = time.Time{}
		return m.state, "Remote stop. Waiting for start.", true
	}
	return m.state, "", false
}

func (m *Machine) activate() {
	m.state = ActiveMonitoring
	m.pauseStart = time.Time{}
}

func (m *Machine) pause(now time.Time) {
	m.state = Paused
	m.pauseStart = now
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// IsMonitoringActive reports whether posture frames should be processed.
func (m *Machine) IsMonitoringActive() bool {
	return m.state == ActiveMonitoring
}

// PauseStart returns when the current pause began. ok is false unless Paused.
func (m *Machine) PauseStart() (start time.Time, ok bool) {
	if m.state != Paused {
		return time.Time{}, false
	}
	return m.pauseStart, true
}

// PauseRemaining returns the time left before an automatic resume, clamped
// at zero. ok is false unless Paused.
func (m *Machine) PauseRemaining(now time.Time) (remaining time.Duration, ok bool) {
	if m.state != Paused {
		return 0, false
	}
	return max(0, m.pauseDuration-now.Sub(m.pauseStart)), true
}

// Display returns a human readable description of the state.
func (m *Machine) Display() string {
	switch m.state {
	case WaitingForStart:
		return "WAITING FOR START (show thumbs up)"
	case ActiveMonitoring:
		return "ACTIVE MONITORING (thumbs down to pause)"
	case Paused:
		return "PAUSED (thumbs up to resume)"
	}
	return string(m.state)
}
