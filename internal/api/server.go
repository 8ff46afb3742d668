// Package api serves the HTTP status and control surface of the monitor.
package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tailscale.com/tsweb"

	"github.com/banshee-data/nightwatchman/internal/framemux"
	"github.com/banshee-data/nightwatchman/internal/gate"
	"github.com/banshee-data/nightwatchman/internal/httputil"
	"github.com/banshee-data/nightwatchman/internal/pipeline"
	"github.com/banshee-data/nightwatchman/internal/version"
)

const (
	defaultTransitionLimit = 50
	maxTransitionLimit     = 1000
)

type Server struct {
	log      *zap.Logger
	pipeline *pipeline.Pipeline
	source   framemux.Source

	statsMu sync.Mutex
	stats   map[string]func() any
}

// NewServer builds a Server over p. source may be nil when no frame source
// is attached.
func NewServer(log *zap.Logger, p *pipeline.Pipeline, source framemux.Source) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:      log,
		pipeline: p,
		source:   source,
		stats:    make(map[string]func() any),
	}
}

// AddStats registers a named counter source shown at /debug/stats.
func (s *Server) AddStats(name string, fn func() any) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats[name] = fn
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		level := zap.DebugLevel
		if lrw.statusCode >= http.StatusInternalServerError {
			level = zap.WarnLevel
		}
		log.Check(level, "http request").Write(
			zap.Int("status", lrw.statusCode),
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/1e6),
		)
	})
}

// Handler returns the routes wrapped in LoggingMiddleware.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.log, s.ServeMux())
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/", s.unknownRoute)
	mux.HandleFunc("/healthz", s.healthz)
	s.attachDebugRoutes(mux)
	if s.source != nil {
		s.source.AttachAdminRoutes(mux)
	}
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.pipeline.Snapshot())
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultTransitionLimit, 1, maxTransitionLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.pipeline.Transitions(limit))
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.pipeline.Config().Tuning())
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Command gate.Command `json:"command"`
	Gate    gate.State   `json:"gate"`
	Changed bool         `json:"changed"`
	Message string       `json:"message,omitempty"`
}

// sendCommand accepts {"command":"pause"} or a command form/query value.
func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req commandRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := httputil.DecodeJSONBody(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	} else {
		req.Command = r.FormValue("command")
	}
	if req.Command == "" {
		httputil.BadRequest(w, "Missing command")
		return
	}

	cmd, err := gate.ParseCommand(req.Command)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	state, events := s.pipeline.Command(cmd)
	resp := commandResponse{Command: cmd, Gate: state, Changed: len(events) > 0}
	if resp.Changed {
		resp.Message = events[0].Message
	}
	s.log.Info("http command applied",
		zap.String("command", string(cmd)),
		zap.String("gate", string(state)),
		zap.Bool("changed", resp.Changed))
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) unknownRoute(w http.ResponseWriter, r *http.Request) {
	httputil.NotFound(w, "no api route "+r.URL.Path)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, struct {
		Status string `json:"status"`
		version.Info
	}{Status: "ok", Info: version.Current()})
}

func (s *Server) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("timeline", "posture state timeline", s.handleTimelineChart)
	debug.HandleFunc("dwell", "time spent per posture state", s.handleDwellChart)
	debug.HandleFunc("stats", "publisher and source counters", s.handleStats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.statsMu.Lock()
	out := make(map[string]any, len(s.stats)+1)
	for name, fn := range s.stats {
		out[name] = fn()
	}
	s.statsMu.Unlock()
	if s.source != nil {
		out["source"] = s.source.Stats()
	}
	httputil.WriteJSONOK(w, out)
}
