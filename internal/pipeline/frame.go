package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/nightwatchman/internal/gesture"
	"github.com/banshee-data/nightwatchman/internal/posture"
)

// ErrEmptyFrame is returned by DecodeFrame for blank lines.
var ErrEmptyFrame = errors.New("empty frame")

// Frame is one detector record. Every part is optional: a missing pose
// means nobody was detected, a missing hand means no gesture.
//
//	{"ts":"2025-03-01T02:00:00.1Z","pose":{"left_shoulder":{"x":0.4,"y":0.3,"visibility":0.9},...},"thumbs_up":true}
type Frame struct {
	Timestamp time.Time              `json:"ts,omitzero"`
	Pose      *posture.LandmarkFrame `json:"pose,omitempty"`
	Hand      *gesture.HandLandmarks `json:"hand,omitempty"`

	// Upstream classifier output. When set these take precedence over
	// classifying Hand.
	ThumbsUp   *bool `json:"thumbs_up,omitempty"`
	ThumbsDown *bool `json:"thumbs_down,omitempty"`
}

// DecodeFrame parses one newline-delimited JSON record.
func DecodeFrame(line []byte) (Frame, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Signals returns the per-frame gesture detections.
func (f Frame) Signals() gesture.Signals {
	s := gesture.Detect(f.Hand)
	if f.ThumbsUp != nil {
		s.ThumbsUp = *f.ThumbsUp
	}
	if f.ThumbsDown != nil {
		s.ThumbsDown = *f.ThumbsDown
	}
	return s
}
