package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/nightwatchman/internal/alert"
	"github.com/banshee-data/nightwatchman/internal/gate"
	"github.com/banshee-data/nightwatchman/internal/posture"
)

// EventKind classifies pipeline events.
type EventKind string

const (
	EventGate      EventKind = "gate"      // System gate changed state
	EventPosture   EventKind = "posture"   // Posture alert machine transitioned
	EventAlert     EventKind = "alert"     // Person sat up; ALERT_ACTIVE entered
	EventDetection EventKind = "detection" // First person detection since start
)

// Event is emitted for every state change. Snapshot reflects the pipeline
// after the frame or command that produced the event.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Kind      EventKind         `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Gate      gate.State        `json:"gate,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metrics   *posture.Metrics  `json:"metrics,omitempty"`
	Posture   *alert.Transition `json:"transition,omitempty"`
	Snapshot  Snapshot          `json:"snapshot"`
}

// Handler receives events. HandleEvent is called outside the pipeline lock,
// in event order, on the goroutine that called Step or Command.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

// HandleEvent calls f(ev).
func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }
