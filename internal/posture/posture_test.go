package posture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameAt builds a frame whose torso has the given folded angle and
// vertical difference. Hips are centred at (0.5, 0.5).
func frameAt(angleDeg, vdiff, visibility float64) LandmarkFrame {
	rad := angleDeg * math.Pi / 180
	r := vdiff / math.Sin(rad)
	dx := -r * math.Cos(rad)
	dy := -vdiff

	hipX, hipY := 0.5, 0.5
	sx, sy := hipX+dx, hipY+dy
	return LandmarkFrame{
		LeftShoulder:  Point{X: sx - 0.1, Y: sy, Visibility: visibility},
		RightShoulder: Point{X: sx + 0.1, Y: sy, Visibility: visibility},
		LeftHip:       Point{X: hipX - 0.1, Y: hipY, Visibility: visibility},
		RightHip:      Point{X: hipX + 0.1, Y: hipY, Visibility: visibility},
	}
}

// --------------------------------------------------------------------------
// Geometry
// --------------------------------------------------------------------------

func TestTorsoAngle(t *testing.T) {
	t.Parallel()

	for _, want := range []float64{30, 45, 90, 120, 160} {
		angle, vdiff := TorsoAngle(frameAt(want, 0.3, 1))
		assert.InDelta(t, want, angle, 1e-9, "angle for %v", want)
		assert.InDelta(t, 0.3, vdiff, 1e-9)
	}
}

func TestTorsoAngle_UprightIsNinety(t *testing.T) {
	t.Parallel()

	f := LandmarkFrame{
		LeftShoulder:  Point{X: 0.4, Y: 0.2},
		RightShoulder: Point{X: 0.6, Y: 0.2},
		LeftHip:       Point{X: 0.4, Y: 0.6},
		RightHip:      Point{X: 0.6, Y: 0.6},
	}
	angle, vdiff := TorsoAngle(f)
	assert.InDelta(t, 90, angle, 1e-9)
	assert.InDelta(t, 0.4, vdiff, 1e-9)
}

func TestTorsoAngle_Degenerate(t *testing.T) {
	t.Parallel()

	p := Point{X: 0.5, Y: 0.5, Visibility: 1}
	angle, vdiff := TorsoAngle(LandmarkFrame{LeftShoulder: p, RightShoulder: p, LeftHip: p, RightHip: p})
	assert.Equal(t, 0.0, angle)
	assert.Equal(t, 0.0, vdiff)
}

func TestTorsoAngle_LevelPointingLeftFoldsToZero(t *testing.T) {
	t.Parallel()

	f := LandmarkFrame{
		LeftShoulder:  Point{X: 0.1, Y: 0.5},
		RightShoulder: Point{X: 0.1, Y: 0.5},
		LeftHip:       Point{X: 0.6, Y: 0.5},
		RightHip:      Point{X: 0.6, Y: 0.5},
	}
	angle, _ := TorsoAngle(f)
	assert.GreaterOrEqual(t, angle, 0.0)
	assert.Less(t, angle, 180.0)
}

func TestLandmarkFrame_Confidence(t *testing.T) {
	t.Parallel()

	f := LandmarkFrame{
		LeftShoulder:  Point{Visibility: 1.0},
		RightShoulder: Point{Visibility: 0.8},
		LeftHip:       Point{Visibility: 0.6},
		RightHip:      Point{Visibility: 0.4},
	}
	assert.InDelta(t, 0.7, f.Confidence(), 1e-9)
}

// --------------------------------------------------------------------------
// Classification
// --------------------------------------------------------------------------

func TestClassify_NearlyFlatIsAlwaysLying(t *testing.T) {
	t.Parallel()
	th := DefaultThresholds()

	for angle := 0.0; angle < 180; angle += 5 {
		for _, vdiff := range []float64{0, 0.05, -0.05, 0.0999, -0.0999} {
			assert.Equal(t, Lying, th.Classify(angle, vdiff), "angle=%v vdiff=%v", angle, vdiff)
		}
	}
}

func TestClassify_Strict(t *testing.T) {
	t.Parallel()
	th := DefaultThresholds()

	tests := []struct {
		name  string
		angle float64
		vdiff float64
		want  Posture
	}{
		{"upright sitting", 90, 0.3, Sitting},
		{"sitting lower bound", 70, 0.21, Sitting},
		{"sitting upper bound", 115, 0.21, Sitting},
		{"upright but shallow", 90, 0.15, Transitioning},
		{"propped", 45, 0.15, Propped},
		{"propped vdiff not exceeded", 45, 0.1, Transitioning},
		{"lying by low angle", 20, 0.3, Lying},
		{"lying by high angle", 165, 0.3, Lying},
		{"between ranges", 130, 0.3, Transitioning},
		{"hips above shoulders", 90, -0.3, Transitioning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(tt.angle, tt.vdiff))
		})
	}
}

func TestClassifyWithHysteresis(t *testing.T) {
	t.Parallel()
	th := DefaultThresholds()

	tests := []struct {
		name    string
		angle   float64
		vdiff   float64
		current Posture
		want    Posture
		strict  Posture
	}{
		{"sitting angle widened", 65, 0.3, Sitting, Sitting, Transitioning},
		{"sitting vdiff relaxed", 90, 0.18, Sitting, Sitting, Transitioning},
		{"propped widened", 65, 0.3, Propped, Propped, Transitioning},
		{"lying flat band widened", 90, 0.12, Lying, Lying, Transitioning},
		{"lying angle widened", 35, 0.3, Lying, Lying, Propped},
		{"other branches stay strict", 25, 0.3, Sitting, Lying, Lying},
		{"propped only widens propped", 25, 0.3, Propped, Propped, Lying},
		{"transitioning has no branch", 65, 0.3, Transitioning, Transitioning, Transitioning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.strict, th.Classify(tt.angle, tt.vdiff), "strict")
			assert.Equal(t, tt.want, th.ClassifyWithHysteresis(tt.angle, tt.vdiff, tt.current), "hysteresis")
		})
	}
}

func TestClassifyWithHysteresis_FlatWinsOverSittingBranch(t *testing.T) {
	t.Parallel()
	th := DefaultThresholds()

	assert.Equal(t, Lying, th.ClassifyWithHysteresis(90, 0.05, Sitting))
}

// --------------------------------------------------------------------------
// Smoothing
// --------------------------------------------------------------------------

func TestCalculator_SteadyStateEqualsRaw(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultThresholds(), 3)

	var m Metrics
	for i := 0; i < 5; i++ {
		m = c.Calculate(frameAt(90, 0.3, 0.9), None)
	}
	assert.InDelta(t, 90, m.Angle, 1e-9)
	assert.InDelta(t, 0.3, m.VerticalDiff, 1e-9)
	assert.InDelta(t, 0.9, m.Confidence, 1e-9)
	assert.Equal(t, Sitting, m.Posture)
}

func TestCalculator_WindowEvictsOldest(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultThresholds(), 3)

	m := c.Calculate(frameAt(90, 0.3, 1), None)
	assert.InDelta(t, 0.3, m.VerticalDiff, 1e-9)

	c.Calculate(frameAt(90, 0.6, 1), None)
	m = c.Calculate(frameAt(90, 0.9, 1), None)
	assert.InDelta(t, 0.6, m.VerticalDiff, 1e-9)

	m = c.Calculate(frameAt(90, 1.2, 1), None)
	assert.InDelta(t, 0.9, m.VerticalDiff, 1e-9)
}

func TestCalculator_SingleFrameJitterIsDamped(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultThresholds(), 3)

	c.Calculate(frameAt(90, 0.3, 1), None)
	c.Calculate(frameAt(90, 0.3, 1), None)
	// One flat frame alone would classify LYING; averaged it does not.
	m := c.Calculate(frameAt(90, 0.0001, 1), None)
	assert.NotEqual(t, Lying, m.Posture)
}

func TestCalculator_UsesHysteresisForCurrent(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultThresholds(), 1)

	assert.Equal(t, Transitioning, c.Calculate(frameAt(65, 0.3, 1), None).Posture)
	assert.Equal(t, Sitting, c.Calculate(frameAt(65, 0.3, 1), Sitting).Posture)
}

func TestCalculator_ZeroWindowMeansNoSmoothing(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultThresholds(), 0)

	c.Calculate(frameAt(90, 0.3, 1), None)
	m := c.Calculate(frameAt(45, 0.15, 1), None)
	assert.InDelta(t, 45, m.Angle, 1e-9)
	assert.Equal(t, Propped, m.Posture)
}

func TestCalculator_Reset(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultThresholds(), 3)

	c.Calculate(frameAt(90, 0.9, 1), None)
	c.Calculate(frameAt(90, 0.9, 1), None)
	c.Reset()

	m := c.Calculate(frameAt(90, 0.3, 1), None)
	require.InDelta(t, 0.3, m.VerticalDiff, 1e-9)
}

func TestPosture_Valid(t *testing.T) {
	t.Parallel()

	for _, p := range []Posture{Sitting, Propped, Lying, Transitioning} {
		assert.True(t, p.Valid(), string(p))
	}
	assert.False(t, None.Valid())
	assert.False(t, Posture("STANDING").Valid())
}
