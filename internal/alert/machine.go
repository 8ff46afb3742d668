package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/nightwatchman/internal/posture"
)

// Config holds the alert machine timers and thresholds.
type Config struct {
	PersistenceDuration time.Duration // SITTING must hold this long to alert
	CooldownDuration    time.Duration // quiet period after the alert clears
	ConfidenceThreshold float64       // frames below this are ignored
	HistoryLimit        int           // most recent transitions retained
}

// DefaultConfig returns the stock alert tuning.
func DefaultConfig() Config {
	return Config{
		PersistenceDuration: 5 * time.Second,
		CooldownDuration:    300 * time.Second,
		ConfidenceThreshold: 0.6,
		HistoryLimit:        1000,
	}
}

// Machine is the posture alert state machine. It performs no I/O and is
// not safe for concurrent use; callers serialise Update through one owner.
type Machine struct {
	cfg Config

	state          State
	previous       State
	stateEntryTime time.Time

	persistenceStart *time.Time // non-nil only in SittingDetected
	cooldownEnd      *time.Time // non-nil only in AlertCooldown

	history []Transition
}

// NewMachine returns a Machine in MonitoringLying, entered at now.
func NewMachine(cfg Config, now time.Time) *Machine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	return &Machine{
		cfg:            cfg,
		state:          MonitoringLying,
		stateEntryTime: now,
	}
}

// Update evaluates one frame. A nil metrics (nobody detected) or one below
// the confidence threshold holds the current state. It returns the
// transition taken, or nil when the state did not change.
func (m *Machine) Update(metrics *posture.Metrics, now time.Time) *Transition {
	if metrics == nil {
		return nil
	}
	if metrics.Confidence < m.cfg.ConfidenceThreshold {
		return nil
	}

	next, reason := m.next(metrics.Posture, now)
	if next == m.state {
		return nil
	}
	return m.transitionTo(next, *metrics, reason, now)
}

func (m *Machine) next(p posture.Posture, now time.Time) (State, string) {
	switch m.state {
	case MonitoringLying:
		if p != posture.Lying {
			return RestlessMovement, fmt.Sprintf("posture %s while lying", p)
		}

	case RestlessMovement:
		switch p {
		case posture.Sitting:
			return SittingDetected, "sitting detected"
		case posture.Lying:
			return MonitoringLying, "settled back to lying"
		}

	case SittingDetected:
		// The timer is checked before posture so an elapsed timer always alerts.
		if m.persistenceStart != nil {
			if elapsed := now.Sub(*m.persistenceStart); elapsed >= m.cfg.PersistenceDuration {
				return AlertActive, fmt.Sprintf("sitting held %.1fs", elapsed.Seconds())
			}
		}
		if p == posture.Lying {
			return MonitoringLying, "lay back down before alert"
		}
		if p != posture.Sitting {
			return RestlessMovement, fmt.Sprintf("posture %s interrupted sitting", p)
		}

	case AlertActive:
		if p == posture.Lying {
			return AlertCooldown, "lay back down"
		}

	case AlertCooldown:
		if m.cooldownEnd != nil && !now.Before(*m.cooldownEnd) {
			if p == posture.Lying {
				return MonitoringLying, "cooldown complete"
			}
			return RestlessMovement, fmt.Sprintf("cooldown complete, posture %s", p)
		}
	}
	return m.state, ""
}

func (m *Machine) transitionTo(next State, metrics posture.Metrics, reason string, now time.Time) *Transition {
	t := Transition{
		ID:        uuid.New(),
		From:      m.state,
		To:        next,
		Metrics:   metrics,
		Reason:    reason,
		Timestamp: now,
	}

	// Entry effects. Leaving cooldown always drops its deadline.
	m.cooldownEnd = nil
	switch next {
	case SittingDetected:
		start := now
		m.persistenceStart = &start
	case AlertCooldown:
		m.persistenceStart = nil
		end := now.Add(m.cfg.CooldownDuration)
		m.cooldownEnd = &end
	case AlertActive, MonitoringLying, RestlessMovement:
		m.persistenceStart = nil
	}

	m.previous = m.state
	m.state = next
	m.stateEntryTime = now

	m.history = append(m.history, t)
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	return &t
}

// Reset returns the machine to MonitoringLying and clears both timers.
// History is kept. It returns the transition recorded, or nil when the
// machine was already in MonitoringLying.
func (m *Machine) Reset(now time.Time) *Transition {
	if m.state == MonitoringLying {
		return nil
	}
	return m.transitionTo(MonitoringLying, posture.Metrics{}, "monitoring restarted", now)
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Previous returns the state before the last transition, or "" before any.
func (m *Machine) Previous() State {
	return m.previous
}

// StateDuration returns how long the machine has been in its current state.
func (m *Machine) StateDuration(now time.Time) time.Duration {
	return now.Sub(m.stateEntryTime)
}

// PersistenceElapsed returns the running persistence timer. ok is false
// outside SittingDetected.
func (m *Machine) PersistenceElapsed(now time.Time) (elapsed time.Duration, ok bool) {
	if m.persistenceStart == nil {
		return 0, false
	}
	return now.Sub(*m.persistenceStart), true
}

// CooldownRemaining returns the time left in cooldown, clamped at zero.
// ok is false outside AlertCooldown.
func (m *Machine) CooldownRemaining(now time.Time) (remaining time.Duration, ok bool) {
	if m.cooldownEnd == nil {
		return 0, false
	}
	return max(0, m.cooldownEnd.Sub(now)), true
}

// HysteresisHint returns the posture the classifier should favour given the
// current state, or posture.None.
func (m *Machine) HysteresisHint() posture.Posture {
	switch m.state {
	case SittingDetected:
		return posture.Sitting
	case MonitoringLying:
		return posture.Lying
	}
	return posture.None
}

// History returns a copy of the retained transitions, oldest first.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Config returns the machine configuration.
func (m *Machine) Config() Config {
	return m.cfg
}
