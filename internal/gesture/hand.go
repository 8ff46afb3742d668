package gesture

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Hand landmark indices following the MediaPipe hand model.
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

const (
	minFoldedFingers     = 2
	fistFoldedFingers    = 3
	foldedAngleMax       = 120.0 // PIP joint angle below this is folded
	maxVerticalDeviation = 20.0  // degrees the thumb may lean off vertical
	orientationDeadband  = 0.01  // tip vs MCP depth difference treated as flat
)

// fingerJoints are the (MCP, PIP, TIP) triples of the four fingers.
var fingerJoints = [4][3]int{
	{IndexMCP, IndexPIP, IndexTip},
	{MiddleMCP, MiddlePIP, MiddleTip},
	{RingMCP, RingPIP, RingTip},
	{PinkyMCP, PinkyPIP, PinkyTip},
}

// Point3D is a normalised hand landmark. Y grows downwards in image space
// and smaller Z is closer to the camera.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks is one detected hand.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness,omitempty"` // "Left" or "Right"
	Score      float64               `json:"score,omitempty"`
}

// Variant describes how the hand is presented while giving a thumb gesture.
type Variant string

const (
	VariantNone Variant = ""
	VariantFist Variant = "fist"
	VariantPalm Variant = "palm"
	VariantBack Variant = "back"
)

// Classification is the result of one thumb classifier.
type Classification struct {
	Detected bool    `json:"detected"`
	Variant  Variant `json:"variant,omitempty"`
	Folded   int     `json:"folded"`
}

// Signals are the per-frame raw detections fed to the Tracker.
type Signals struct {
	ThumbsUp   bool `json:"thumbs_up"`
	ThumbsDown bool `json:"thumbs_down"`
}

// Detect runs both thumb classifiers. A nil hand detects nothing.
func Detect(h *HandLandmarks) Signals {
	if h == nil {
		return Signals{}
	}
	return Signals{
		ThumbsUp:   ClassifyThumbsUp(h).Detected,
		ThumbsDown: ClassifyThumbsDown(h).Detected,
	}
}

// AngleAt returns the angle in degrees at b formed by a-b-c. Degenerate
// arms return 0.
func AngleAt(a, b, c Point3D) float64 {
	v1 := Point3D{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
	v2 := Point3D{c.X - b.X, c.Y - b.Y, c.Z - b.Z}

	n1 := math.Sqrt(v1.X*v1.X + v1.Y*v1.Y + v1.Z*v1.Z)
	n2 := math.Sqrt(v2.X*v2.X + v2.Y*v2.Y + v2.Z*v2.Z)
	if n1 == 0 || n2 == 0 {
		return 0
	}
	cos := (v1.X*v2.X + v1.Y*v2.Y + v1.Z*v2.Z) / (n1 * n2)
	return math.Acos(math.Max(-1, math.Min(1, cos))) * 180 / math.Pi
}

// ThumbVerticalAngle returns the screen-space angle between base->tip and
// straight up: 0 is up, 180 is down. A zero-length thumb returns 90.
func ThumbVerticalAngle(base, tip Point3D) float64 {
	dx, dy := tip.X-base.X, tip.Y-base.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return 90
	}
	// Up is (0, -1) in image coordinates.
	cos := -dy / length
	return math.Acos(math.Max(-1, math.Min(1, cos))) * 180 / math.Pi
}

// FoldedFingers counts fingers whose PIP joint is bent past foldedAngleMax.
func FoldedFingers(h *HandLandmarks) int {
	n := 0
	for _, j := range fingerJoints {
		if AngleAt(h.Points[j[0]], h.Points[j[1]], h.Points[j[2]]) < foldedAngleMax {
			n++
		}
	}
	return n
}

// ClassifyThumbsUp reports a thumb pointing up out of a mostly closed hand.
func ClassifyThumbsUp(h *HandLandmarks) Classification {
	tip, mcp, index := h.Points[ThumbTip], h.Points[ThumbMCP], h.Points[IndexMCP]
	up := tip.Y < mcp.Y && tip.Y < index.Y &&
		ThumbVerticalAngle(mcp, tip) <= maxVerticalDeviation
	return classify(h, up)
}

// ClassifyThumbsDown reports a thumb pointing down out of a mostly closed hand.
func ClassifyThumbsDown(h *HandLandmarks) Classification {
	tip, mcp, index := h.Points[ThumbTip], h.Points[ThumbMCP], h.Points[IndexMCP]
	down := tip.Y > mcp.Y && tip.Y > index.Y &&
		math.Abs(ThumbVerticalAngle(mcp, tip)-180) <= maxVerticalDeviation
	return classify(h, down)
}

func classify(h *HandLandmarks, thumbOK bool) Classification {
	folded := FoldedFingers(h)
	if !thumbOK || folded < minFoldedFingers {
		return Classification{Folded: folded}
	}
	return Classification{Detected: true, Variant: variant(h, folded), Folded: folded}
}

func variant(h *HandLandmarks, folded int) Variant {
	if folded >= fistFoldedFingers {
		return VariantFist
	}
	tips := []float64{h.Points[IndexTip].Z, h.Points[MiddleTip].Z, h.Points[RingTip].Z, h.Points[PinkyTip].Z}
	mcps := []float64{h.Points[IndexMCP].Z, h.Points[MiddleMCP].Z, h.Points[RingMCP].Z, h.Points[PinkyMCP].Z}
	tipZ, mcpZ := stat.Mean(tips, nil), stat.Mean(mcps, nil)

	if tipZ > mcpZ+orientationDeadband {
		return VariantBack
	}
	return VariantPalm
}
