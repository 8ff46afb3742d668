package posture

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// window is a fixed-capacity ring of the most recent samples.
type window struct {
	buf  []float64
	next int
	n    int
}

func newWindow(size int) window {
	return window{buf: make([]float64, size)}
}

func (w *window) push(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

// mean of the filled slots. Until the ring wraps they are buf[:n].
func (w *window) mean() float64 {
	if w.n == 0 {
		return 0
	}
	return stat.Mean(w.buf[:w.n], nil)
}

func (w *window) reset() {
	w.next, w.n = 0, 0
}

// Calculator smooths torso metrics over a short sliding window and
// classifies the result. It is not safe for concurrent use.
type Calculator struct {
	thresholds Thresholds
	angles     window
	vdiffs     window
}

// NewCalculator returns a Calculator averaging over smoothingFrames samples.
// Values below 1 are treated as 1 (no smoothing).
func NewCalculator(t Thresholds, smoothingFrames int) *Calculator {
	if smoothingFrames < 1 {
		smoothingFrames = 1
	}
	return &Calculator{
		thresholds: t,
		angles:     newWindow(smoothingFrames),
		vdiffs:     newWindow(smoothingFrames),
	}
}

// Thresholds returns the classifier tuning in use.
func (c *Calculator) Thresholds() Thresholds {
	return c.thresholds
}

// Calculate pushes the frame's raw torso values into the smoothing windows
// and classifies the window means. When current is not None the hysteresis
// branch for that posture is applied.
func (c *Calculator) Calculate(f LandmarkFrame, current Posture) Metrics {
	angle, vdiff := TorsoAngle(f)
	c.angles.push(angle)
	c.vdiffs.push(vdiff)

	m := Metrics{
		Angle:        c.angles.mean(),
		VerticalDiff: c.vdiffs.mean(),
		Confidence:   f.Confidence(),
	}
	if current != None {
		m.Posture = c.thresholds.ClassifyWithHysteresis(m.Angle, m.VerticalDiff, current)
	} else {
		m.Posture = c.thresholds.Classify(m.Angle, m.VerticalDiff)
	}
	return m
}

// Reset discards the smoothing history.
func (c *Calculator) Reset() {
	c.angles.reset()
	c.vdiffs.reset()
}

// TorsoAngle returns the raw torso angle in degrees, folded into [0,180),
// and the vertical difference hip_mid.y - shoulder_mid.y.
func TorsoAngle(f LandmarkFrame) (angle, verticalDiff float64) {
	shoulderX := (f.LeftShoulder.X + f.RightShoulder.X) / 2
	shoulderY := (f.LeftShoulder.Y + f.RightShoulder.Y) / 2
	hipX := (f.LeftHip.X + f.RightHip.X) / 2
	hipY := (f.LeftHip.Y + f.RightHip.Y) / 2

	// atan2(0, 0) is 0, so coincident midpoints fall back to 0 degrees.
	angle = math.Atan2(shoulderY-hipY, shoulderX-hipX) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	// A level torso pointing left gives exactly 180; keep the result in [0,180).
	if angle >= 180 {
		angle -= 180
	}
	return angle, hipY - shoulderY
}
