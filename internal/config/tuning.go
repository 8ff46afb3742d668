package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// ErrUnsupportedFormat is returned when a config file is not JSON.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// TuningConfig holds every threshold and timer used by the posture
// classifier, the posture alert machine, the gesture hold tracker and the
// system gate. Fields left out of the JSON fall back to the Get* defaults,
// so partial configs are safe.
type TuningConfig struct {
	// Posture classification
	SittingAngleMin     *float64     `json:"sitting_angle_min,omitempty"`
	SittingAngleMax     *float64     `json:"sitting_angle_max,omitempty"`
	SittingVerticalDiff *float64     `json:"sitting_vertical_diff,omitempty"`
	ProppedAngleMin     *float64     `json:"propped_angle_min,omitempty"`
	ProppedAngleMax     *float64     `json:"propped_angle_max,omitempty"`
	ProppedVerticalDiff *float64     `json:"propped_vertical_diff,omitempty"`
	LyingAngleRanges    [][2]float64 `json:"lying_angle_ranges,omitempty"`

	// Hysteresis around the current posture
	HysteresisAngleBuffer *float64 `json:"hysteresis_angle_buffer,omitempty"`
	HysteresisVDiffBuffer *float64 `json:"hysteresis_vdiff_buffer,omitempty"`
	SmoothingFrames       *int     `json:"smoothing_frames,omitempty"`

	// Alert machine
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	PersistenceDuration *string  `json:"persistence_duration,omitempty"` // duration string like "5s"
	CooldownDuration    *string  `json:"cooldown_duration,omitempty"`    // duration string like "300s"
	HistoryLimit        *int     `json:"history_limit,omitempty"`

	// Gestures and gate
	ThumbsUpHoldDuration   *string `json:"thumbs_up_hold_duration,omitempty"`
	ThumbsDownHoldDuration *string `json:"thumbs_down_hold_duration,omitempty"`
	GestureGracePeriod     *string `json:"gesture_grace_period,omitempty"`
	PauseDuration          *string `json:"pause_duration,omitempty"` // empty means cooldown_duration
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the compiled-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		SittingAngleMin:        ptrFloat64(70),
		SittingAngleMax:        ptrFloat64(115),
		SittingVerticalDiff:    ptrFloat64(0.2),
		ProppedAngleMin:        ptrFloat64(30),
		ProppedAngleMax:        ptrFloat64(60),
		ProppedVerticalDiff:    ptrFloat64(0.1),
		LyingAngleRanges:       defaultLyingAngleRanges(),
		HysteresisAngleBuffer:  ptrFloat64(10),
		HysteresisVDiffBuffer:  ptrFloat64(0.05),
		SmoothingFrames:        ptrInt(3),
		ConfidenceThreshold:    ptrFloat64(0.6),
		PersistenceDuration:    ptrString("5s"),
		CooldownDuration:       ptrString("300s"),
		HistoryLimit:           ptrInt(1000),
		ThumbsUpHoldDuration:   ptrString("2s"),
		ThumbsDownHoldDuration: ptrString("2s"),
		GestureGracePeriod:     ptrString("400ms"),
	}
}

func defaultLyingAngleRanges() [][2]float64 {
	return [][2]float64{{0, 30}, {150, 180}}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", ErrUnsupportedFormat, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	angles := []struct {
		name string
		v    *float64
	}{
		{"sitting_angle_min", c.SittingAngleMin},
		{"sitting_angle_max", c.SittingAngleMax},
		{"propped_angle_min", c.ProppedAngleMin},
		{"propped_angle_max", c.ProppedAngleMax},
	}
	for _, a := range angles {
		if a.v != nil && (*a.v < 0 || *a.v > 180) {
			return fmt.Errorf("%s must be between 0 and 180, got %f", a.name, *a.v)
		}
	}
	if lo, hi := c.GetSittingAngleMin(), c.GetSittingAngleMax(); lo > hi {
		return fmt.Errorf("sitting_angle_min %f exceeds sitting_angle_max %f", lo, hi)
	}
	if lo, hi := c.GetProppedAngleMin(), c.GetProppedAngleMax(); lo > hi {
		return fmt.Errorf("propped_angle_min %f exceeds propped_angle_max %f", lo, hi)
	}
	for i, r := range c.LyingAngleRanges {
		if r[0] > r[1] || r[0] < 0 || r[1] > 180 {
			return fmt.Errorf("lying_angle_ranges[%d] must satisfy 0 <= min <= max <= 180, got [%f, %f]", i, r[0], r[1])
		}
	}

	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	if c.HysteresisAngleBuffer != nil && *c.HysteresisAngleBuffer < 0 {
		return fmt.Errorf("hysteresis_angle_buffer must be non-negative, got %f", *c.HysteresisAngleBuffer)
	}
	if c.HysteresisVDiffBuffer != nil && *c.HysteresisVDiffBuffer < 0 {
		return fmt.Errorf("hysteresis_vdiff_buffer must be non-negative, got %f", *c.HysteresisVDiffBuffer)
	}
	if c.SmoothingFrames != nil && (*c.SmoothingFrames < 1 || *c.SmoothingFrames > 100) {
		return fmt.Errorf("smoothing_frames must be between 1 and 100, got %d", *c.SmoothingFrames)
	}
	if c.HistoryLimit != nil && *c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be positive, got %d", *c.HistoryLimit)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"persistence_duration", c.PersistenceDuration},
		{"cooldown_duration", c.CooldownDuration},
		{"thumbs_up_hold_duration", c.ThumbsUpHoldDuration},
		{"thumbs_down_hold_duration", c.ThumbsDownHoldDuration},
		{"gesture_grace_period", c.GestureGracePeriod},
		{"pause_duration", c.PauseDuration},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetSittingAngleMin returns the sitting_angle_min value or the default.
func (c *TuningConfig) GetSittingAngleMin() float64 {
	if c.SittingAngleMin == nil {
		return 70
	}
	return *c.SittingAngleMin
}

// GetSittingAngleMax returns the sitting_angle_max value or the default.
func (c *TuningConfig) GetSittingAngleMax() float64 {
	if c.SittingAngleMax == nil {
		return 115
	}
	return *c.SittingAngleMax
}

// GetSittingVerticalDiff returns the sitting_vertical_diff value or the default.
func (c *TuningConfig) GetSittingVerticalDiff() float64 {
	if c.SittingVerticalDiff == nil {
		return 0.2
	}
	return *c.SittingVerticalDiff
}

// GetProppedAngleMin returns the propped_angle_min value or the default.
func (c *TuningConfig) GetProppedAngleMin() float64 {
	if c.ProppedAngleMin == nil {
		return 30
	}
	return *c.ProppedAngleMin
}

// GetProppedAngleMax returns the propped_angle_max value or the default.
func (c *TuningConfig) GetProppedAngleMax() float64 {
	if c.ProppedAngleMax == nil {
		return 60
	}
	return *c.ProppedAngleMax
}

// GetProppedVerticalDiff returns the propped_vertical_diff value or the default.
func (c *TuningConfig) GetProppedVerticalDiff() float64 {
	if c.ProppedVerticalDiff == nil {
		return 0.1
	}
	return *c.ProppedVerticalDiff
}

// GetLyingAngleRanges returns a copy of the lying angle ranges or the default.
func (c *TuningConfig) GetLyingAngleRanges() [][2]float64 {
	if len(c.LyingAngleRanges) == 0 {
		return defaultLyingAngleRanges()
	}
	out := make([][2]float64, len(c.LyingAngleRanges))
	copy(out, c.LyingAngleRanges)
	return out
}

// GetHysteresisAngleBuffer returns the hysteresis_angle_buffer value or the default.
func (c *TuningConfig) GetHysteresisAngleBuffer() float64 {
	if c.HysteresisAngleBuffer == nil {
		return 10
	}
	return *c.HysteresisAngleBuffer
}

// GetHysteresisVDiffBuffer returns the hysteresis_vdiff_buffer value or the default.
func (c *TuningConfig) GetHysteresisVDiffBuffer() float64 {
	if c.HysteresisVDiffBuffer == nil {
		return 0.05
	}
	return *c.HysteresisVDiffBuffer
}

// GetSmoothingFrames returns the smoothing_frames value or the default.
func (c *TuningConfig) GetSmoothingFrames() int {
	if c.SmoothingFrames == nil {
		return 3
	}
	return *c.SmoothingFrames
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.6
	}
	return *c.ConfidenceThreshold
}

// GetHistoryLimit returns the history_limit value or the default.
func (c *TuningConfig) GetHistoryLimit() int {
	if c.HistoryLimit == nil {
		return 1000
	}
	return *c.HistoryLimit
}

// GetPersistenceDuration returns how long SITTING must hold before an alert.
func (c *TuningConfig) GetPersistenceDuration() time.Duration {
	return durationOr(c.PersistenceDuration, 5*time.Second)
}

// GetCooldownDuration returns the quiet period after an alert clears.
func (c *TuningConfig) GetCooldownDuration() time.Duration {
	return durationOr(c.CooldownDuration, 300*time.Second)
}

// GetThumbsUpHoldDuration returns the thumbs_up_hold_duration or the default.
func (c *TuningConfig) GetThumbsUpHoldDuration() time.Duration {
	return durationOr(c.ThumbsUpHoldDuration, 2*time.Second)
}

// GetThumbsDownHoldDuration returns the thumbs_down_hold_duration or the default.
func (c *TuningConfig) GetThumbsDownHoldDuration() time.Duration {
	return durationOr(c.ThumbsDownHoldDuration, 2*time.Second)
}

// GetGestureGracePeriod returns the gesture_grace_period or the default.
func (c *TuningConfig) GetGestureGracePeriod() time.Duration {
	return durationOr(c.GestureGracePeriod, 400*time.Millisecond)
}

// GetPauseDuration returns how long a thumbs-down pause lasts. When unset it
// shares the alert cooldown duration.
func (c *TuningConfig) GetPauseDuration() time.Duration {
	return durationOr(c.PauseDuration, c.GetCooldownDuration())
}
