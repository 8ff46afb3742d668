// Package publish republishes pipeline events to external systems: an MQTT
// broker for home automation, a Redis stream for other services, and the
// service log.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/nightwatchman/internal/pipeline"
)

// Sink receives events from a Dispatcher, one at a time.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev pipeline.Event) error
	Close() error
}

const (
	// DefaultQueueSize is the Dispatcher buffer when none is given.
	DefaultQueueSize = 256
	// publishTimeout bounds a single Sink.Publish call.
	publishTimeout = 5 * time.Second
)

// Dispatcher fans pipeline events out to sinks on its own goroutine so a
// slow broker never stalls frame processing. When the queue is full new
// events are dropped and counted.
type Dispatcher struct {
	log   *zap.Logger
	sinks []Sink
	queue chan pipeline.Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

var _ pipeline.Handler = (*Dispatcher)(nil)

// DispatchStats are the Dispatcher counters.
type DispatchStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

// NewDispatcher starts a Dispatcher. A non-positive size uses
// DefaultQueueSize.
func NewDispatcher(log *zap.Logger, size int, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		log:   log,
		sinks: sinks,
		queue: make(chan pipeline.Event, size),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// HandleEvent enqueues ev without blocking.
func (d *Dispatcher) HandleEvent(ev pipeline.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		n := d.dropped.Add(1)
		d.log.Warn("publish queue full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.Uint64("dropped_total", n))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := s.Publish(ctx, ev)
			cancel()
			if err != nil {
				d.failed.Add(1)
				d.log.Warn("publish failed",
					zap.String("sink", s.Name()),
					zap.String("kind", string(ev.Kind)),
					zap.Error(err))
				continue
			}
			d.published.Add(1)
		}
	}
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}

// Close stops accepting events, delivers everything already queued and then
// closes every sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done

	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
