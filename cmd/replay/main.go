// Command replay runs a recorded JSONL frame log through the monitoring
// pipeline on simulated time and prints every state change.
//
// Usage:
//
//	replay [-config tuning.json] [-skip-bad] frames.jsonl
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/nightwatchman/internal/config"
	"github.com/banshee-data/nightwatchman/internal/framemux"
	"github.com/banshee-data/nightwatchman/internal/monitoring"
	"github.com/banshee-data/nightwatchman/internal/pipeline"
	"github.com/banshee-data/nightwatchman/internal/timeutil"
)

var (
	configPath = flag.String("config", "", "Path to a JSON tuning file (defaults are used when empty)")
	input      = flag.String("input", "", "JSONL frame log (or pass it as the only argument)")
	skipBad    = flag.Bool("skip-bad", false, "Skip undecodable lines instead of failing")
	interval   = flag.Duration("interval", 100*time.Millisecond, "Clock step for frames without a ts field")
	logLevel   = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
)

// replayEpoch anchors simulated time when the log has no timestamps.
var replayEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type options struct {
	Tuning   *config.TuningConfig
	SkipBad  bool
	Interval time.Duration
	Log      *zap.Logger
}

type summary struct {
	Feed        pipeline.FeedStats
	Transitions int
	Final       pipeline.Snapshot
}

func main() {
	flag.Parse()

	path := *input
	if path == "" && flag.NArg() == 1 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: replay [flags] frames.jsonl")
		flag.PrintDefaults()
		os.Exit(2)
	}

	log, err := monitoring.NewLogger(*logLevel, "console", "replay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging flags: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	tuning := config.DefaultTuningConfig()
	if *configPath != "" {
		if tuning, err = config.LoadTuningConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "load tuning: %v\n", err)
			os.Exit(2)
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sum, err := replay(ctx, path, os.Stdout, options{
		Tuning:   tuning,
		SkipBad:  *skipBad,
		Interval: *interval,
		Log:      log,
	})
	printSummary(os.Stdout, sum)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}
}

// replay feeds the frames in path into a fresh pipeline. Each frame moves
// the clock to its ts, or forward by opts.Interval when it has none.
func replay(ctx context.Context, path string, out io.Writer, opts options) (summary, error) {
	if opts.Tuning == nil {
		opts.Tuning = config.DefaultTuningConfig()
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	start, err := firstTimestamp(path)
	if err != nil {
		return summary{}, err
	}
	clk := timeutil.NewMockClock(start)
	p := pipeline.New(pipeline.ConfigFromTuning(opts.Tuning), clk)

	var transitions int
	p.Subscribe(pipeline.HandlerFunc(func(ev pipeline.Event) {
		if ev.Kind == pipeline.EventPosture {
			transitions++
		}
		printEvent(out, start, ev)
	}))

	src, err := framemux.Open(path, framemux.PortOptions{})
	if err != nil {
		return summary{}, err
	}
	defer src.Close()

	id, lines := src.SubscribeReliable()
	defer src.Unsubscribe(id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		monitorErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitorErr = src.Monitor(ctx)
	}()

	first := true
	stats, feedErr := pipeline.Feed(ctx, p, lines, pipeline.FeedOptions{
		Log:         opts.Log,
		StopOnError: !opts.SkipBad,
		BeforeStep: func(f pipeline.Frame) {
			switch {
			case !f.Timestamp.IsZero():
				clk.Set(f.Timestamp)
			case !first:
				clk.Advance(opts.Interval)
			}
			first = false
		},
	})
	cancel()
	wg.Wait()

	sum := summary{Feed: stats, Transitions: transitions, Final: p.Snapshot()}
	if feedErr != nil {
		return sum, feedErr
	}
	if monitorErr != nil && !errors.Is(monitorErr, context.Canceled) {
		return sum, monitorErr
	}
	return sum, nil
}

// firstTimestamp scans path for the first frame carrying a ts so the
// pipeline starts at the recording's own time.
func firstTimestamp(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scan.Scan() {
		fr, err := pipeline.DecodeFrame(scan.Bytes())
		if err != nil {
			continue
		}
		if !fr.Timestamp.IsZero() {
			return fr.Timestamp, nil
		}
	}
	if err := scan.Err(); err != nil {
		return time.Time{}, fmt.Errorf("scan %s: %w", path, err)
	}
	return replayEpoch, nil
}

func printEvent(w io.Writer, start time.Time, ev pipeline.Event) {
	offset := ev.Timestamp.Sub(start).Seconds()
	fmt.Fprintf(w, "%s  +%8.1fs  %-9s  %s\n",
		ev.Timestamp.UTC().Format("15:04:05.000"), offset, ev.Kind, ev.Message)
}

func printSummary(w io.Writer, s summary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "lines:        %d\n", s.Feed.Lines)
	fmt.Fprintf(w, "frames:       %d\n", s.Feed.Frames)
	fmt.Fprintf(w, "skipped:      %d\n", s.Feed.Skipped)
	fmt.Fprintf(w, "transitions:  %d\n", s.Transitions)
	fmt.Fprintf(w, "alerts:       %d\n", s.Final.AlertCount)
	fmt.Fprintf(w, "final gate:   %s\n", s.Final.Gate)
	fmt.Fprintf(w, "final state:  %s\n", s.Final.State)
}
