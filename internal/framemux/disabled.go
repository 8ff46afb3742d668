package framemux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledFrameMux is a no-op Source used when no frame source is
// configured. It lets the API and the publishers run without a detector.
// Subscriber channels are still tracked so they close on Unsubscribe or
// Close and readers unblock during shutdown.
type DisabledFrameMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

var _ Source = (*DisabledFrameMux)(nil)

func NewDisabledFrameMux() *DisabledFrameMux {
	return &DisabledFrameMux{
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledFrameMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledFrameMux) SubscribeReliable() (string, chan string) { return d.Subscribe() }

func (d *DisabledFrameMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledFrameMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledFrameMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledFrameMux) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Source: "disabled", Subscribers: len(d.subscribers)}
}

func (d *DisabledFrameMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/frames-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("frame source disabled"))
	})
}
