// Package posture turns per-frame body keypoints into smoothed torso
// metrics and a discrete posture label.
package posture

// Posture is the discrete classification of torso orientation.
type Posture string

const (
	None          Posture = ""              // No current posture; disables hysteresis
	Sitting       Posture = "SITTING"       // Torso upright, hips well below shoulders
	Propped       Posture = "PROPPED"       // Reclined against a support
	Lying         Posture = "LYING"         // Torso flat
	Transitioning Posture = "TRANSITIONING" // Anything between the above
)

// Valid reports whether p is one of the four classified postures.
func (p Posture) Valid() bool {
	switch p {
	case Sitting, Propped, Lying, Transitioning:
		return true
	}
	return false
}

// Point is a normalised image-space keypoint with the detector's
// per-point visibility in [0,1]. Y grows downwards.
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility"`
}

// LandmarkFrame is the four torso keypoints produced per camera frame.
type LandmarkFrame struct {
	LeftShoulder  Point `json:"left_shoulder"`
	RightShoulder Point `json:"right_shoulder"`
	LeftHip       Point `json:"left_hip"`
	RightHip      Point `json:"right_hip"`
}

// Confidence is the mean visibility of the four keypoints.
func (f LandmarkFrame) Confidence() float64 {
	return (f.LeftShoulder.Visibility + f.RightShoulder.Visibility +
		f.LeftHip.Visibility + f.RightHip.Visibility) / 4
}

// Metrics is the per-frame output of the Calculator. Angle and
// VerticalDiff are window means, not raw values.
type Metrics struct {
	Angle        float64 `json:"angle"`
	VerticalDiff float64 `json:"vertical_diff"`
	Confidence   float64 `json:"confidence"`
	Posture      Posture `json:"posture"`
}
