package framemux

import (
	"context"
	"io"
	"net/http"
)

// FramePorter is the byte stream a FrameMux reads newline-delimited
// frames from: a serial port, a file, stdin or a pipe.
type FramePorter interface {
	io.ReadCloser
}

// Source is the interface shared by FrameMux and DisabledFrameMux.
type Source interface {
	// Subscribe creates a lossy channel of raw lines. Lines are dropped for
	// this subscriber when its buffer is full.
	Subscribe() (string, chan string)
	// SubscribeReliable creates a channel that receives every line. Monitor
	// blocks until the line is taken, so there must be an active reader.
	SubscribeReliable() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads lines until the stream ends, it fails or ctx is done.
	Monitor(context.Context) error
	// Close closes all subscribed channels and the underlying stream.
	Close() error
	// Stats reports line and drop counters.
	Stats() Stats
	// AttachAdminRoutes attaches debugging endpoints served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats is a point-in-time view of a Source's counters.
type Stats struct {
	Source      string `json:"source"`
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}
