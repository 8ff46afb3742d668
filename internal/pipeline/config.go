package pipeline

import (
	"time"

	"github.com/banshee-data/nightwatchman/internal/alert"
	"github.com/banshee-data/nightwatchman/internal/config"
	"github.com/banshee-data/nightwatchman/internal/posture"
)

// Config gathers the tuning of every stage.
type Config struct {
	Thresholds      posture.Thresholds
	SmoothingFrames int
	Alert           alert.Config

	ThumbsUpHold   time.Duration
	ThumbsDownHold time.Duration
	GracePeriod    time.Duration
	PauseDuration  time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning maps a loaded tuning file onto the stage configs.
func ConfigFromTuning(tc *config.TuningConfig) Config {
	return Config{
		Thresholds: posture.Thresholds{
			SittingAngleMin:       tc.GetSittingAngleMin(),
			SittingAngleMax:       tc.GetSittingAngleMax(),
			SittingVerticalDiff:   tc.GetSittingVerticalDiff(),
			ProppedAngleMin:       tc.GetProppedAngleMin(),
			ProppedAngleMax:       tc.GetProppedAngleMax(),
			ProppedVerticalDiff:   tc.GetProppedVerticalDiff(),
			LyingAngleRanges:      tc.GetLyingAngleRanges(),
			HysteresisAngleBuffer: tc.GetHysteresisAngleBuffer(),
			HysteresisVDiffBuffer: tc.GetHysteresisVDiffBuffer(),
		},
		SmoothingFrames: tc.GetSmoothingFrames(),
		Alert: alert.Config{
			PersistenceDuration: tc.GetPersistenceDuration(),
			CooldownDuration:    tc.GetCooldownDuration(),
			ConfidenceThreshold: tc.GetConfidenceThreshold(),
			HistoryLimit:        tc.GetHistoryLimit(),
		},
		ThumbsUpHold:   tc.GetThumbsUpHoldDuration(),
		ThumbsDownHold: tc.GetThumbsDownHoldDuration(),
		GracePeriod:    tc.GetGestureGracePeriod(),
		PauseDuration:  tc.GetPauseDuration(),
	}
}

// Tuning renders c as a fully populated tuning file. ConfigFromTuning of
// the result yields c again.
func (c Config) Tuning() *config.TuningConfig {
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	d := func(v time.Duration) *string { s := v.String(); return &s }

	t := c.Thresholds
	ranges := make([][2]float64, len(t.LyingAngleRanges))
	copy(ranges, t.LyingAngleRanges)
	return &config.TuningConfig{
		SittingAngleMin:        f(t.SittingAngleMin),
		SittingAngleMax:        f(t.SittingAngleMax),
		SittingVerticalDiff:    f(t.SittingVerticalDiff),
		ProppedAngleMin:        f(t.ProppedAngleMin),
		ProppedAngleMax:        f(t.ProppedAngleMax),
		ProppedVerticalDiff:    f(t.ProppedVerticalDiff),
		LyingAngleRanges:       ranges,
		HysteresisAngleBuffer:  f(t.HysteresisAngleBuffer),
		HysteresisVDiffBuffer:  f(t.HysteresisVDiffBuffer),
		SmoothingFrames:        i(c.SmoothingFrames),
		ConfidenceThreshold:    f(c.Alert.ConfidenceThreshold),
		PersistenceDuration:    d(c.Alert.PersistenceDuration),
		CooldownDuration:       d(c.Alert.CooldownDuration),
		HistoryLimit:           i(c.Alert.HistoryLimit),
		ThumbsUpHoldDuration:   d(c.ThumbsUpHold),
		ThumbsDownHoldDuration: d(c.ThumbsDownHold),
		GestureGracePeriod:     d(c.GracePeriod),
		PauseDuration:          d(c.PauseDuration),
	}
}
