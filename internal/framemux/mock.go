package framemux

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/banshee-data/nightwatchman/internal/pipeline"
	"github.com/banshee-data/nightwatchman/internal/posture"
)

// DemoInterval is the frame period of the mock source.
const DemoInterval = 100 * time.Millisecond

// MockPort is a FramePorter fed by a goroutine writing scripted lines.
type MockPort struct {
	*io.PipeReader
}

// NewMockFrameMux creates a FrameMux that replays lines at the given
// interval, looping until closed.
func NewMockFrameMux(lines []string, interval time.Duration) *FrameMux[*MockPort] {
	r, w := io.Pipe()

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			<-ticker.C
			line := lines[i%len(lines)]
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			// Write fails once the reader is closed.
			if _, err := io.WriteString(w, line); err != nil {
				return
			}
		}
	}()

	return NewFrameMux("mock", &MockPort{PipeReader: r})
}

// DemoScript is a loop that starts monitoring with a held thumbs up, lies
// still, sits up long enough to raise an alert and lies back down.
func DemoScript() []string {
	p := func(x, y float64) posture.Point { return posture.Point{X: x, Y: y, Visibility: 0.9} }
	lying := &posture.LandmarkFrame{
		LeftShoulder: p(0.2, 0.48), RightShoulder: p(0.2, 0.52),
		LeftHip: p(0.6, 0.48), RightHip: p(0.6, 0.52),
	}
	sitting := &posture.LandmarkFrame{
		LeftShoulder: p(0.45, 0.3), RightShoulder: p(0.55, 0.3),
		LeftHip: p(0.45, 0.6), RightHip: p(0.55, 0.6),
	}
	up := true

	var lines []string
	add := func(n int, f pipeline.Frame) {
		b, _ := json.Marshal(f)
		for range n {
			lines = append(lines, string(b))
		}
	}
	add(25, pipeline.Frame{ThumbsUp: &up})
	add(30, pipeline.Frame{Pose: lying})
	add(80, pipeline.Frame{Pose: sitting})
	add(50, pipeline.Frame{Pose: lying})
	add(5, pipeline.Frame{})
	return lines
}
