package publish

import (
	"context"

	"go.uber.org/zap"

	"github.com/banshee-data/nightwatchman/internal/pipeline"
)

// LogSink writes every event to a zap logger. Alerts are logged at warn.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a LogSink writing to log.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, ev pipeline.Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("kind", string(ev.Kind)),
		zap.String("gate", string(ev.Gate)),
		zap.Time("at", ev.Timestamp),
	}
	if ev.Posture != nil {
		fields = append(fields,
			zap.String("from", string(ev.Posture.From)),
			zap.String("to", string(ev.Posture.To)),
			zap.String("reason", ev.Posture.Reason))
	}
	if ev.Metrics != nil {
		fields = append(fields,
			zap.Float64("angle", ev.Metrics.Angle),
			zap.Float64("vertical_diff", ev.Metrics.VerticalDiff),
			zap.Float64("confidence", ev.Metrics.Confidence),
			zap.String("posture", string(ev.Metrics.Posture)))
	}

	msg := ev.Message
	if msg == "" {
		msg = string(ev.Kind)
	}
	if ev.Kind == pipeline.EventAlert {
		s.log.Warn(msg, append(fields, zap.Int("alert_count", ev.Snapshot.AlertCount))...)
		return nil
	}
	s.log.Info(msg, fields...)
	return nil
}

// Close is a no-op; the owner of the logger syncs it.
func (s *LogSink) Close() error { return nil }
