package pipeline

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nightwatchman/internal/alert"
	"github.com/banshee-data/nightwatchman/internal/gate"
	"github.com/banshee-data/nightwatchman/internal/gesture"
	"github.com/banshee-data/nightwatchman/internal/posture"
	"github.com/banshee-data/nightwatchman/internal/timeutil"
)

const tick = 100 * time.Millisecond

var t0 = time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)

func pt(x, y float64) posture.Point {
	return posture.Point{X: x, Y: y, Visibility: 0.9}
}

var (
	sittingPose = &posture.LandmarkFrame{
		LeftShoulder: pt(0.45, 0.3), RightShoulder: pt(0.55, 0.3),
		LeftHip: pt(0.45, 0.6), RightHip: pt(0.55, 0.6),
	}
	lyingPose = &posture.LandmarkFrame{
		LeftShoulder: pt(0.2, 0.48), RightShoulder: pt(0.2, 0.52),
		LeftHip: pt(0.6, 0.48), RightHip: pt(0.6, 0.52),
	}
)

func boolPtr(b bool) *bool { return &b }

func thumbsUp() Frame   { return Frame{ThumbsUp: boolPtr(true)} }
func thumbsDown() Frame { return Frame{ThumbsDown: boolPtr(true)} }

func testPipeline(t *testing.T) (*Pipeline, *timeutil.MockClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Alert.PersistenceDuration = 2 * time.Second
	cfg.Alert.CooldownDuration = 5 * time.Second
	cfg.PauseDuration = 10 * time.Second
	clk := timeutil.NewMockClock(t0)
	return New(cfg, clk), clk
}

// run steps f every tick for d and returns all events.
func run(p *Pipeline, clk *timeutil.MockClock, f Frame, d time.Duration) []Event {
	var all []Event
	for elapsed := time.Duration(0); elapsed < d; elapsed += tick {
		clk.Advance(tick)
		all = append(all, p.Step(f)...)
	}
	return all
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func activePipeline(t *testing.T) (*Pipeline, *timeutil.MockClock) {
	t.Helper()
	p, clk := testPipeline(t)
	events := run(p, clk, thumbsUp(), 2100*time.Millisecond)
	require.Equal(t, []EventKind{EventGate}, kinds(events))
	require.True(t, p.Snapshot().MonitoringActive)
	return p, clk
}

// --------------------------------------------------------------------------
// Gating
// --------------------------------------------------------------------------

func TestPipeline_WaitingIgnoresPosture(t *testing.T) {
	t.Parallel()
	p, clk := testPipeline(t)

	events := run(p, clk, Frame{Pose: sittingPose}, 5*time.Second)
	assert.Empty(t, events)

	snap := p.Snapshot()
	assert.Equal(t, gate.WaitingForStart, snap.Gate)
	assert.Equal(t, alert.MonitoringLying, snap.State)
	assert.Equal(t, uint64(50), snap.FrameCount)
	assert.True(t, snap.PersonDetected)
	assert.Nil(t, snap.Metrics)
}

func TestPipeline_HeldThumbsUpStartsMonitoring(t *testing.T) {
	t.Parallel()
	p, clk := testPipeline(t)

	events := run(p, clk, thumbsUp(), 2*time.Second)
	assert.Empty(t, events, "20 frames span only 1.9s of hold")

	events = run(p, clk, thumbsUp(), tick)
	require.Len(t, events, 1)
	assert.Equal(t, EventGate, events[0].Kind)
	assert.Equal(t, gate.ActiveMonitoring, events[0].Gate)
	assert.NotEmpty(t, events[0].Message)
	assert.True(t, events[0].Snapshot.MonitoringActive)
	assert.False(t, p.tracker.Track(gesture.ThumbsUp).Confirmed, "consumed gesture is reset")
}

func TestPipeline_PauseAndAutoResume(t *testing.T) {
	t.Parallel()
	p, clk := activePipeline(t)

	events := run(p, clk, thumbsDown(), 2100*time.Millisecond)
	require.Equal(t, []EventKind{EventGate}, kinds(events))
	assert.Equal(t, gate.Paused, events[0].Gate)
	require.NotNil(t, events[0].Snapshot.PauseRemaining)
	assert.InDelta(t, 10, *events[0].Snapshot.PauseRemaining, 1e-9)

	// Posture is ignored while paused.
	events = run(p, clk, Frame{Pose: sittingPose}, 9*time.Second)
	assert.Empty(t, events)
	assert.Equal(t, alert.MonitoringLying, p.Snapshot().State)

	events = run(p, clk, Frame{}, time.Second)
	require.Equal(t, []EventKind{EventGate}, kinds(events))
	assert.Equal(t, gate.ActiveMonitoring, events[0].Gate)
	assert.Contains(t, events[0].Message, "expired")
}

func TestPipeline_ResumeRestartsPostureTracking(t *testing.T) {
	t.Parallel()
	p, clk := activePipeline(t)

	run(p, clk, Frame{Pose: sittingPose}, 500*time.Millisecond)
	require.Equal(t, alert.SittingDetected, p.Snapshot().State)

	events := run(p, clk, thumbsDown(), 2100*time.Millisecond)
	require.Equal(t, []EventKind{EventGate}, kinds(events))
	require.Equal(t, gate.Paused, p.Snapshot().Gate)

	// The person lies back down; the pause then expires on its own. The
	// persistence timer started before the pause must not fire an alert.
	events = run(p, clk, Frame{Pose: lyingPose}, 11*time.Second)
	require.Equal(t, []EventKind{EventGate, EventPosture}, kinds(events))
	assert.Equal(t, gate.ActiveMonitoring, events[0].Gate)
	assert.Equal(t, alert.SittingDetected, events[1].Posture.From)
	assert.Equal(t, alert.MonitoringLying, events[1].Posture.To)

	snap := p.Snapshot()
	assert.Equal(t, alert.MonitoringLying, snap.State)
	assert.Zero(t, snap.AlertCount)
	assert.Nil(t, snap.PersistenceElapsed)
	assert.Nil(t, snap.CooldownRemaining)
}

func TestPipeline_ThumbsUpResumesFromPause(t *testing.T) {
	t.Parallel()
	p, clk := activePipeline(t)
	run(p, clk, thumbsDown(), 2100*time.Millisecond)
	require.Equal(t, gate.Paused, p.Snapshot().Gate)

	events := run(p, clk, thumbsUp(), 2100*time.Millisecond)
	require.Equal(t, []EventKind{EventGate}, kinds(events))
	assert.Contains(t, events[0].Message, "resumed")
}

// --------------------------------------------------------------------------
// Posture alerting
// --------------------------------------------------------------------------

func TestPipeline_SittingRaisesOneAlert(t *testing.T) {
	t.Parallel()
	p, clk := activePipeline(t)

	events := run(p, clk, Frame{Pose: sittingPose}, 5*time.Second)
	require.Equal(t, []EventKind{EventDetection, EventPosture, EventPosture, EventPosture, EventAlert}, kinds(events))

	var path []alert.State
	for _, ev := range events {
		if ev.Kind == EventPosture {
			path = append(path, ev.Posture.To)
		}
	}
	assert.Equal(t, []alert.State{alert.RestlessMovement, alert.SittingDetected, alert.AlertActive}, path)

	last := events[len(events)-1]
	assert.Equal(t, 1, last.Snapshot.AlertCount)
	assert.Equal(t, alert.AlertActive, last.Snapshot.State)
	require.NotNil(t, last.Metrics)
	assert.Equal(t, posture.Sitting, last.Metrics.Posture)

	// Lying down clears the alert into cooldown, then monitoring.
	events = run(p, clk, Frame{Pose: lyingPose}, 6*time.Second)
	path = path[:0]
	for _, ev := range events {
		path = append(path, ev.Posture.To)
	}
	assert.Equal(t, []alert.State{alert.AlertCooldown, alert.MonitoringLying}, path)
	assert.Equal(t, 1, p.Snapshot().AlertCount)
}

func TestPipeline_MissingPoseHoldsState(t *testing.T) {
	t.Parallel()
	p, clk := activePipeline(t)

	run(p, clk, Frame{Pose: sittingPose}, 2*tick)
	require.Equal(t, alert.SittingDetected, p.Snapshot().State)

	events := run(p, clk, Frame{}, 10*time.Second)
	assert.Empty(t, events)
	snap := p.Snapshot()
	assert.Equal(t, alert.SittingDetected, snap.State)
	assert.False(t, snap.PersonDetected)
	require.NotNil(t, snap.PersistenceElapsed)

	// The overdue timer fires on the next confident frame.
	events = run(p, clk, Frame{Pose: sittingPose}, tick)
	assert.Equal(t, []EventKind{EventPosture, EventAlert}, kinds(events))
}

func TestPipeline_LowConfidenceHoldsState(t *testing.T) {
	t.Parallel()
	p, clk := activePipeline(t)

	weak := *sittingPose
	weak.LeftShoulder.Visibility = 0.1
	weak.RightShoulder.Visibility = 0.1

	events := run(p, clk, Frame{Pose: &weak}, 3*time.Second)
	assert.Equal(t, []EventKind{EventDetection}, kinds(events))
	assert.Equal(t, alert.MonitoringLying, p.Snapshot().State)
}

// --------------------------------------------------------------------------
// Commands and subscribers
// --------------------------------------------------------------------------

func TestPipeline_Command(t *testing.T) {
	t.Parallel()
	p, _ := testPipeline(t)

	state, events := p.Command(gate.CommandStart)
	assert.Equal(t, gate.ActiveMonitoring, state)
	require.Len(t, events, 1)
	assert.True(t, events[0].Snapshot.MonitoringActive)

	state, events = p.Command(gate.CommandStart)
	assert.Equal(t, gate.ActiveMonitoring, state)
	assert.Empty(t, events)

	state, _ = p.Command(gate.CommandPause)
	assert.Equal(t, gate.Paused, state)
	state, _ = p.Command(gate.CommandStop)
	assert.Equal(t, gate.WaitingForStart, state)
}

func TestPipeline_SubscribersSeeEventsInOrder(t *testing.T) {
	t.Parallel()
	p, clk := testPipeline(t)

	var seen []EventKind
	p.Subscribe(HandlerFunc(func(ev Event) {
		seen = append(seen, ev.Kind)
		// Handlers run outside the lock and may read the pipeline.
		_ = p.Snapshot()
	}))

	p.Command(gate.CommandStart)
	run(p, clk, Frame{Pose: sittingPose}, 3*time.Second)

	assert.Equal(t, []EventKind{EventGate, EventDetection, EventPosture, EventPosture, EventPosture, EventAlert}, seen)
}

func TestPipeline_Transitions(t *testing.T) {
	t.Parallel()
	p, clk := activePipeline(t)
	run(p, clk, Frame{Pose: sittingPose}, 3*time.Second)

	assert.Len(t, p.Transitions(0), 3)
	last := p.Transitions(1)
	require.Len(t, last, 1)
	assert.Equal(t, alert.AlertActive, last[0].To)
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

func TestPipeline_InitialSnapshot(t *testing.T) {
	t.Parallel()
	p, clk := testPipeline(t)
	clk.Advance(tick)
	p.Step(Frame{})

	want := Snapshot{
		Timestamp:     t0.Add(tick),
		Gate:          gate.WaitingForStart,
		GateDisplay:   "WAITING FOR START (show thumbs up)",
		State:         alert.MonitoringLying,
		StateDuration: 0.1,
		Gestures: map[gesture.Kind]gesture.Result{
			gesture.ThumbsUp:   {},
			gesture.ThumbsDown: {},
		},
		FrameCount: 1,
		StartedAt:  t0,
		Uptime:     0.1,
	}
	if diff := cmp.Diff(want, p.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_JSON(t *testing.T) {
	t.Parallel()
	p, clk := activePipeline(t)
	run(p, clk, Frame{Pose: sittingPose}, 2*tick)

	data, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ACTIVE_MONITORING", got["gate"])
	assert.Equal(t, "SITTING_DETECTED", got["state"])
	assert.Contains(t, got, "persistence_elapsed_seconds")
	assert.NotContains(t, got, "cooldown_remaining_seconds")
	assert.NotContains(t, got, "pause_remaining_seconds")
	assert.Contains(t, got["gestures"], "thumbs_up")
	assert.Equal(t, "SITTING", got["metrics"].(map[string]any)["posture"])
}

// --------------------------------------------------------------------------
// Frames
// --------------------------------------------------------------------------

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	line := []byte(`{"ts":"2025-03-01T02:00:01.5Z",
		"pose":{"left_shoulder":{"x":0.45,"y":0.3,"visibility":0.9},"right_shoulder":{"x":0.55,"y":0.3,"visibility":0.9},
		"left_hip":{"x":0.45,"y":0.6,"visibility":0.9},"right_hip":{"x":0.55,"y":0.6,"visibility":0.9}},
		"thumbs_down":false}`)

	f, err := DecodeFrame(line)
	require.NoError(t, err)
	assert.True(t, t0.Add(1500*time.Millisecond).Equal(f.Timestamp), "ts = %v", f.Timestamp)
	require.NotNil(t, f.Pose)
	assert.Equal(t, *sittingPose, *f.Pose)
	assert.Nil(t, f.ThumbsUp)
	require.NotNil(t, f.ThumbsDown)
	assert.False(t, *f.ThumbsDown)
}

func TestDecodeFrame_Errors(t *testing.T) {
	t.Parallel()

	_, err := DecodeFrame([]byte("  \n"))
	assert.True(t, errors.Is(err, ErrEmptyFrame))

	_, err = DecodeFrame([]byte(`{"pose":`))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmptyFrame))
}

func TestFrame_SignalsPreferUpstreamFlags(t *testing.T) {
	t.Parallel()

	hand := &gesture.HandLandmarks{}
	hand.Points[gesture.ThumbMCP] = gesture.Point3D{X: 0.5, Y: 0.5}
	hand.Points[gesture.ThumbTip] = gesture.Point3D{X: 0.5, Y: 0.5}

	assert.Equal(t, gesture.Signals{}, Frame{Hand: hand}.Signals())
	assert.Equal(t, gesture.Signals{ThumbsUp: true}, Frame{Hand: hand, ThumbsUp: boolPtr(true)}.Signals())
	assert.Equal(t, gesture.Signals{ThumbsDown: true}, Frame{ThumbsDown: boolPtr(true)}.Signals())
}

func TestConfigFromTuningDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, posture.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, alert.DefaultConfig(), cfg.Alert)
	assert.Equal(t, 3, cfg.SmoothingFrames)
	assert.Equal(t, 300*time.Second, cfg.PauseDuration)
}

func TestConfig_TuningRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Alert.PersistenceDuration = 7 * time.Second
	cfg.PauseDuration = 90 * time.Second
	cfg.SmoothingFrames = 5

	tc := cfg.Tuning()
	require.NoError(t, tc.Validate())
	assert.Equal(t, "7s", *tc.PersistenceDuration)
	assert.Equal(t, "1m30s", *tc.PauseDuration)

	if diff := cmp.Diff(cfg, ConfigFromTuning(tc)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
