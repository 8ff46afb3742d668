package posture

import "math"

// flatVerticalDiff is the |vertical_diff| below which the torso is treated as
// flat regardless of angle. Rolling sideways while lying swings the angle
// but keeps shoulders and hips level.
const flatVerticalDiff = 0.10

// Thresholds configures the classifier.
type Thresholds struct {
	SittingAngleMin     float64
	SittingAngleMax     float64
	SittingVerticalDiff float64 // vertical_diff must exceed this

	ProppedAngleMin     float64
	ProppedAngleMax     float64
	ProppedVerticalDiff float64

	LyingAngleRanges [][2]float64 // inclusive [min, max] degree ranges

	// Widening applied only to the branch matching the current posture.
	HysteresisAngleBuffer float64
	HysteresisVDiffBuffer float64
}

// DefaultThresholds returns the stock classifier tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SittingAngleMin:       70,
		SittingAngleMax:       115,
		SittingVerticalDiff:   0.2,
		ProppedAngleMin:       30,
		ProppedAngleMax:       60,
		ProppedVerticalDiff:   0.1,
		LyingAngleRanges:      [][2]float64{{0, 30}, {150, 180}},
		HysteresisAngleBuffer: 10,
		HysteresisVDiffBuffer: 0.05,
	}
}

func within(v, lo, hi float64) bool {
	return lo <= v && v <= hi
}

// Classify applies the strict priority order: flat, sitting, propped,
// lying by angle, otherwise transitioning.
func (t Thresholds) Classify(angle, verticalDiff float64) Posture {
	if math.Abs(verticalDiff) < flatVerticalDiff {
		return Lying
	}
	if within(angle, t.SittingAngleMin, t.SittingAngleMax) && verticalDiff > t.SittingVerticalDiff {
		return Sitting
	}
	if within(angle, t.ProppedAngleMin, t.ProppedAngleMax) && verticalDiff > t.ProppedVerticalDiff {
		return Propped
	}
	for _, r := range t.LyingAngleRanges {
		if within(angle, r[0], r[1]) {
			return Lying
		}
	}
	return Transitioning
}

// ClassifyWithHysteresis widens the acceptance region of current only, and
// falls back to Classify when the widened branch does not hold.
func (t Thresholds) ClassifyWithHysteresis(angle, verticalDiff float64, current Posture) Posture {
	ab, vb := t.HysteresisAngleBuffer, t.HysteresisVDiffBuffer

	switch current {
	case Lying:
		if math.Abs(verticalDiff) < flatVerticalDiff+vb {
			return Lying
		}
		for _, r := range t.LyingAngleRanges {
			if within(angle, r[0]-ab, r[1]+ab) {
				return Lying
			}
		}
	case Sitting:
		if within(angle, t.SittingAngleMin-ab, t.SittingAngleMax+ab) && verticalDiff > t.SittingVerticalDiff-vb {
			return Sitting
		}
	case Propped:
		if within(angle, t.ProppedAngleMin-ab, t.ProppedAngleMax+ab) && verticalDiff > t.ProppedVerticalDiff-vb {
			return Propped
		}
	}
	return t.Classify(angle, verticalDiff)
}
