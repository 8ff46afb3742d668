// Package pipeline owns one instance of each monitoring stage and feeds
// them frame by frame: gestures drive the system gate, and while the gate
// is active body keypoints drive the posture alert machine.
package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/nightwatchman/internal/alert"
	"github.com/banshee-data/nightwatchman/internal/gate"
	"github.com/banshee-data/nightwatchman/internal/gesture"
	"github.com/banshee-data/nightwatchman/internal/posture"
	"github.com/banshee-data/nightwatchman/internal/timeutil"
)

// Pipeline serialises every update into the stages. Step, Command and the
// read accessors may be called from any goroutine.
type Pipeline struct {
	mu sync.Mutex

	cfg   Config
	clock timeutil.Clock

	calc    *posture.Calculator
	posture *alert.Machine
	tracker *gesture.Tracker
	gate    *gate.Machine

	gestures    map[gesture.Kind]gesture.Result
	lastMetrics *posture.Metrics
	detected    bool // a person is present in the latest frame
	everSeen    bool

	startedAt  time.Time
	frameCount uint64
	alertCount int

	handlers []Handler
}

// New builds a Pipeline whose stages are all in their initial states.
func New(cfg Config, clock timeutil.Clock) *Pipeline {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()
	return &Pipeline{
		cfg:       cfg,
		clock:     clock,
		calc:      posture.NewCalculator(cfg.Thresholds, cfg.SmoothingFrames),
		posture:   alert.NewMachine(cfg.Alert, now),
		tracker:   gesture.NewTracker(),
		gate:      gate.NewMachine(cfg.PauseDuration),
		gestures:  make(map[gesture.Kind]gesture.Result),
		startedAt: now,
	}
}

// Subscribe registers h for every subsequent event.
func (p *Pipeline) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Config returns the pipeline tuning.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Step processes one frame at the clock's current time and returns the
// events it produced, which have also been delivered to subscribers.
func (p *Pipeline) Step(f Frame) []Event {
	p.mu.Lock()
	now := p.clock.Now()
	events := p.step(f, now)
	handlers := slices.Clone(p.handlers)
	p.mu.Unlock()

	deliver(handlers, events)
	return events
}

func (p *Pipeline) step(f Frame, now time.Time) []Event {
	p.frameCount++
	var events []Event

	sig := f.Signals()
	up := p.tracker.Update(gesture.ThumbsUp, sig.ThumbsUp, p.cfg.ThumbsUpHold, p.cfg.GracePeriod, now)
	down := p.tracker.Update(gesture.ThumbsDown, sig.ThumbsDown, p.cfg.ThumbsDownHold, p.cfg.GracePeriod, now)
	p.gestures[gesture.ThumbsUp] = up
	p.gestures[gesture.ThumbsDown] = down

	if state, msg, changed := p.gate.Update(up.Held, down.Held, now); changed {
		// Consume the held gesture so the next change needs a fresh hold.
		switch {
		case state == gate.Paused:
			p.tracker.Reset(gesture.ThumbsDown)
		case up.Held:
			p.tracker.Reset(gesture.ThumbsUp)
		}
		events = append(events, p.gateChanged(state, msg, now)...)
	}

	p.detected = f.Pose != nil
	if !p.gate.IsMonitoringActive() {
		return p.finish(events, now)
	}

	var metrics *posture.Metrics
	if f.Pose != nil {
		m := p.calc.Calculate(*f.Pose, p.posture.HysteresisHint())
		metrics = &m
		p.lastMetrics = &m

		if !p.everSeen {
			p.everSeen = true
			events = append(events, p.newEvent(EventDetection, now, func(ev *Event) {
				ev.Message = fmt.Sprintf("Person detected: %s (%.1f deg, confidence %.2f)", m.Posture, m.Angle, m.Confidence)
				ev.Metrics = &m
			}))
		}
	}

	if tr := p.posture.Update(metrics, now); tr != nil {
		events = append(events, p.newEvent(EventPosture, now, func(ev *Event) {
			ev.Posture = tr
			ev.Metrics = &tr.Metrics
			ev.Message = tr.String()
		}))
		if tr.To == alert.AlertActive {
			p.alertCount++
			events = append(events, p.newEvent(EventAlert, now, func(ev *Event) {
				ev.Posture = tr
				ev.Metrics = &tr.Metrics
				ev.Message = fmt.Sprintf("Person sitting up (alert #%d)", p.alertCount)
			}))
		}
	}

	return p.finish(events, now)
}

// Command applies a remote gate command.
func (p *Pipeline) Command(cmd gate.Command) (gate.State, []Event) {
	p.mu.Lock()
	now := p.clock.Now()
	var events []Event
	state, msg, changed := p.gate.Apply(cmd, now)
	if changed {
		events = p.finish(p.gateChanged(state, msg, now), now)
	}
	handlers := slices.Clone(p.handlers)
	p.mu.Unlock()

	deliver(handlers, events)
	return state, events
}

// gateChanged records a gate change. Entering ActiveMonitoring restarts
// posture tracking: timers from before the pause are not carried over, and
// neither is the smoothing window.
func (p *Pipeline) gateChanged(state gate.State, msg string, now time.Time) []Event {
	events := []Event{p.newEvent(EventGate, now, func(ev *Event) {
		ev.Gate = state
		ev.Message = msg
	})}
	if state != gate.ActiveMonitoring {
		return events
	}
	p.calc.Reset()
	if tr := p.posture.Reset(now); tr != nil {
		events = append(events, p.newEvent(EventPosture, now, func(ev *Event) {
			ev.Posture = tr
			ev.Metrics = &tr.Metrics
			ev.Message = tr.String()
		}))
	}
	return events
}

func (p *Pipeline) newEvent(kind EventKind, now time.Time, fill func(*Event)) Event {
	ev := Event{ID: uuid.New(), Kind: kind, Timestamp: now, Gate: p.gate.State()}
	fill(&ev)
	return ev
}

// finish stamps the post-update snapshot onto every event.
func (p *Pipeline) finish(events []Event, now time.Time) []Event {
	if len(events) == 0 {
		return nil
	}
	snap := p.snapshot(now)
	for i := range events {
		events[i].Snapshot = snap
	}
	return events
}

func deliver(handlers []Handler, events []Event) {
	for _, ev := range events {
		for _, h := range handlers {
			h.HandleEvent(ev)
		}
	}
}

// Snapshot returns the current status.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(p.clock.Now())
}

func (p *Pipeline) snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Timestamp:        now,
		Gate:             p.gate.State(),
		GateDisplay:      p.gate.Display(),
		MonitoringActive: p.gate.IsMonitoringActive(),
		PauseRemaining:   seconds(p.gate.PauseRemaining(now)),

		State:              p.posture.State(),
		StateDuration:      p.posture.StateDuration(now).Seconds(),
		PersistenceElapsed: seconds(p.posture.PersistenceElapsed(now)),
		CooldownRemaining:  seconds(p.posture.CooldownRemaining(now)),
		PersonDetected:     p.detected,

		Gestures: maps.Clone(p.gestures),

		FrameCount: p.frameCount,
		AlertCount: p.alertCount,
		StartedAt:  p.startedAt,
		Uptime:     now.Sub(p.startedAt).Seconds(),
	}
	if p.lastMetrics != nil {
		m := *p.lastMetrics
		s.Metrics = &m
	}
	return s
}

// Transitions returns up to limit of the most recent posture transitions,
// oldest first. A non-positive limit returns all retained transitions.
func (p *Pipeline) Transitions(limit int) []alert.Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.posture.History()
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h
}
