// Package gesture recognises thumbs-up and thumbs-down hands and converts
// per-frame detections into held-gesture confirmations.
package gesture

import "time"

// Kind identifies a tracked gesture.
type Kind string

const (
	ThumbsUp   Kind = "thumbs_up"
	ThumbsDown Kind = "thumbs_down"
)

// Kinds lists the gestures the gate responds to.
var Kinds = []Kind{ThumbsUp, ThumbsDown}

// Track is the hold state of one gesture kind. A zero Start means the
// gesture is not currently being held.
type Track struct {
	Start     time.Time `json:"start,omitzero"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
	Confirmed bool      `json:"confirmed"`
}

// Started reports whether a hold is in progress.
func (t Track) Started() bool {
	return !t.Start.IsZero()
}

// Result is the per-frame tracker output for one kind.
type Result struct {
	Held     bool    `json:"held"`
	Progress float64 `json:"progress"` // fraction of the hold duration, 0 when not seen this frame
}

// Tracker keeps one independent Track per gesture kind. It does not enforce
// mutual exclusion between kinds. Not safe for concurrent use.
type Tracker struct {
	tracks map[Kind]*Track
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{tracks: make(map[Kind]*Track)}
}

func (t *Tracker) track(k Kind) *Track {
	tr, ok := t.tracks[k]
	if !ok {
		tr = &Track{}
		t.tracks[k] = tr
	}
	return tr
}

// Update folds one frame's detection of kind into its track. A gesture is
// held once it has been seen continuously for hold; gaps no longer than grace
// are bridged. Once confirmed, the hold stays confirmed until the gesture is
// released for longer than grace or Reset is called.
func (t *Tracker) Update(k Kind, detected bool, hold, grace time.Duration, now time.Time) Result {
	tr := t.track(k)

	if detected {
		if !tr.Started() {
			*tr = Track{Start: now, LastSeen: now}
		} else {
			tr.LastSeen = now
		}
		elapsed := now.Sub(tr.Start)
		if elapsed >= hold {
			tr.Confirmed = true
		}
		return Result{Held: tr.Confirmed, Progress: progress(elapsed, hold)}
	}

	if !tr.Started() {
		return Result{}
	}
	if now.Sub(tr.LastSeen) > grace {
		*tr = Track{}
		return Result{}
	}
	return Result{Held: tr.Confirmed}
}

func progress(elapsed, hold time.Duration) float64 {
	if hold <= 0 {
		return 1
	}
	return min(1, float64(elapsed)/float64(hold))
}

// Reset clears kind so that the next detection starts a fresh hold.
func (t *Tracker) Reset(k Kind) {
	delete(t.tracks, k)
}

// Track returns a snapshot of the track for kind.
func (t *Tracker) Track(k Kind) Track {
	if tr, ok := t.tracks[k]; ok {
		return *tr
	}
	return Track{}
}
