package pipeline

import (
	"time"

	"github.com/banshee-data/nightwatchman/internal/alert"
	"github.com/banshee-data/nightwatchman/internal/gate"
	"github.com/banshee-data/nightwatchman/internal/gesture"
	"github.com/banshee-data/nightwatchman/internal/posture"
)

// Snapshot is a read-only view of the pipeline for status endpoints and
// publishers. Durations are in seconds.
type Snapshot struct {
	Timestamp        time.Time  `json:"timestamp"`
	Gate             gate.State `json:"gate"`
	GateDisplay      string     `json:"gate_display"`
	MonitoringActive bool       `json:"monitoring_active"`
	PauseRemaining   *float64   `json:"pause_remaining_seconds,omitempty"`

	State              alert.State      `json:"state"`
	StateDuration      float64          `json:"state_duration_seconds"`
	PersistenceElapsed *float64         `json:"persistence_elapsed_seconds,omitempty"`
	CooldownRemaining  *float64         `json:"cooldown_remaining_seconds,omitempty"`
	PersonDetected     bool             `json:"person_detected"`
	Metrics            *posture.Metrics `json:"metrics,omitempty"`

	Gestures map[gesture.Kind]gesture.Result `json:"gestures"`

	FrameCount uint64    `json:"frame_count"`
	AlertCount int       `json:"alert_count"`
	StartedAt  time.Time `json:"started_at"`
	Uptime     float64   `json:"uptime_seconds"`
}

func seconds(d time.Duration, ok bool) *float64 {
	if !ok {
		return nil
	}
	s := d.Seconds()
	return &s
}
