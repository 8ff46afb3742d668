// Package alert implements the posture alert state machine: it tracks a
// person's posture over time and raises a "sat up" alert once sitting has
// persisted, with a cooldown after the person lies back down.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/nightwatchman/internal/posture"
)

// State is the alert machine state.
type State string

const (
	MonitoringLying  State = "MONITORING_LYING"  // Initial; person lying quietly
	RestlessMovement State = "RESTLESS_MOVEMENT" // Any non-lying posture seen
	SittingDetected  State = "SITTING_DETECTED"  // Sitting, persistence timer running
	AlertActive      State = "ALERT_ACTIVE"      // Sitting held past persistence
	AlertCooldown    State = "ALERT_COOLDOWN"    // Alert cleared, quiet period running
)

// States lists every state in display order.
var States = []State{MonitoringLying, RestlessMovement, SittingDetected, AlertActive, AlertCooldown}

// Index returns the position of s in States, or -1.
func (s State) Index() int {
	for i, v := range States {
		if v == s {
			return i
		}
	}
	return -1
}

// Transition records one accepted state change. Records are never mutated
// after they are appended to the history.
type Transition struct {
	ID        uuid.UUID       `json:"id"`
	From      State           `json:"from"`
	To        State           `json:"to"`
	Metrics   posture.Metrics `json:"metrics"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s (%s)", t.From, t.To, t.Reason)
}
