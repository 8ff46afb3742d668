// Package framemux reads newline-delimited detector frames from a single
// stream and fans each line out to any number of subscribers.
package framemux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/nightwatchman/internal/httputil"
)

const (
	// lossyBuffer is the per-subscriber channel depth for Subscribe.
	lossyBuffer = 16
	// maxLineBytes bounds a single frame; hand landmarks make lines long.
	maxLineBytes = 1 << 20
)

type reliableSub struct {
	ch   chan string
	done chan struct{}
}

// FrameMux is a generic line multiplexer over a FramePorter.
type FrameMux[T FramePorter] struct {
	name string
	port T

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	reliable     map[string]*reliableSub
	orphans      []*reliableSub // unsubscribed while Monitor runs
	monitoring   bool
	closing      bool

	lines   atomic.Uint64
	dropped atomic.Uint64
}

var _ Source = (*FrameMux[FramePorter])(nil)

// NewFrameMux creates a FrameMux reading from port. name identifies the
// stream in Stats and the debug pages.
func NewFrameMux[T FramePorter](name string, port T) *FrameMux[T] {
	return &FrameMux[T]{
		name:        name,
		port:        port,
		subscribers: make(map[string]chan string),
		reliable:    make(map[string]*reliableSub),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *FrameMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, lossyBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

func (s *FrameMux[T]) SubscribeReliable() (string, chan string) {
	id := randomID()
	sub := &reliableSub{ch: make(chan string), done: make(chan struct{})}
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing {
		close(sub.ch)
		return id, sub.ch
	}
	s.reliable[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber. A reliable channel is closed here only
// when Monitor is not running; otherwise Monitor closes it on exit.
func (s *FrameMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
		return
	}
	if sub, ok := s.reliable[id]; ok {
		close(sub.done)
		if s.monitoring {
			s.orphans = append(s.orphans, sub)
		} else {
			close(sub.ch)
		}
		delete(s.reliable, id)
	}
}

// Monitor reads lines from the stream and sends them to subscribers. It
// returns nil at end of stream.
func (s *FrameMux[T]) Monitor(ctx context.Context) error {
	s.subscriberMu.Lock()
	if s.monitoring {
		s.subscriberMu.Unlock()
		return fmt.Errorf("framemux %s: already monitoring", s.name)
	}
	s.monitoring = true
	s.subscriberMu.Unlock()

	defer func() {
		s.subscriberMu.Lock()
		s.monitoring = false
		for id, sub := range s.reliable {
			close(sub.ch)
			delete(s.reliable, id)
		}
		for _, sub := range s.orphans {
			close(sub.ch)
		}
		s.orphans = nil
		s.subscriberMu.Unlock()
	}()

	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs apart from the loop below so that
	// cancellation is observed while waiting on the stream.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return fmt.Errorf("framemux %s: %w", s.name, err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("framemux %s: %w", s.name, err)
				default:
					return nil
				}
			}
			s.subscriberMu.Lock()
			if s.closing {
				s.subscriberMu.Unlock()
				return nil
			}
			s.lines.Add(1)
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					s.dropped.Add(1)
				}
			}
			reliable := make([]*reliableSub, 0, len(s.reliable))
			for _, sub := range s.reliable {
				reliable = append(reliable, sub)
			}
			s.subscriberMu.Unlock()

			for _, sub := range reliable {
				select {
				case sub.ch <- line:
				case <-sub.done:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (s *FrameMux[T]) Close() error {
	s.subscriberMu.Lock()
	if s.closing {
		s.subscriberMu.Unlock()
		return nil
	}
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	if !s.monitoring {
		for id, sub := range s.reliable {
			close(sub.ch)
			delete(s.reliable, id)
		}
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *FrameMux[T]) Stats() Stats {
	s.subscriberMu.Lock()
	n := len(s.subscribers) + len(s.reliable)
	s.subscriberMu.Unlock()
	return Stats{
		Source:      s.name,
		Lines:       s.lines.Load(),
		Dropped:     s.dropped.Load(),
		Subscribers: n,
	}
}

func (s *FrameMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("frames", "frame source counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})

	// Server-Sent Events carrying raw frame lines as they arrive.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		serveTail(w, r, s)
	})
}

func serveTail(w http.ResponseWriter, r *http.Request, src Source) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := src.Subscribe()
	defer src.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
