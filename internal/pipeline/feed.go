package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FeedOptions configures Feed.
type FeedOptions struct {
	Log *zap.Logger
	// BeforeStep runs after a line decodes and before it is stepped. Replay
	// uses it to move a MockClock to the frame timestamp.
	BeforeStep func(Frame)
	// StopOnError makes Feed return on the first undecodable line instead
	// of logging and skipping it.
	StopOnError bool
}

// FeedStats counts what Feed consumed.
type FeedStats struct {
	Lines   uint64 `json:"lines"`
	Frames  uint64 `json:"frames"`
	Skipped uint64 `json:"skipped"`
}

// Feed decodes lines and steps p until lines is closed or ctx is done.
// Blank lines are ignored.
func Feed(ctx context.Context, p *Pipeline, lines <-chan string, opts FeedOptions) (FeedStats, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	var stats FeedStats
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return stats, nil
			}
			stats.Lines++
			f, err := DecodeFrame([]byte(line))
			if errors.Is(err, ErrEmptyFrame) {
				continue
			}
			if err != nil {
				if opts.StopOnError {
					return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
				}
				stats.Skipped++
				log.Warn("skipping undecodable frame", zap.Uint64("line", stats.Lines), zap.Error(err))
				continue
			}
			if opts.BeforeStep != nil {
				opts.BeforeStep(f)
			}
			p.Step(f)
			stats.Frames++
		}
	}
}
