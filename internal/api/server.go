package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/posture.report/internal/httputil"
	"github.com/banshee-data/posture.report/internal/posture/calibration"
	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/posture/publisher"
	"github.com/banshee-data/posture.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxFrameBytes bounds a submitted frame body.
const maxFrameBytes = 64 << 10

type Server struct {
	ctx  context.Context
	loop *loop.Loop
	pub  *publisher.Publisher
}

// NewServer creates the HTTP API. ctx bounds the detection loop when it is
// started over HTTP, so it should live as long as the daemon.
func NewServer(ctx context.Context, l *loop.Loop, pub *publisher.Publisher) *Server {
	return &Server{ctx: ctx, loop: l, pub: pub}
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

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/analysis", s.showAnalysis)
	mux.HandleFunc("/api/frames", s.submitFrame)
	mux.HandleFunc("/api/calibrate", s.calibrate)
	mux.HandleFunc("/api/calibration", s.handleCalibration)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/start", s.start)
	mux.HandleFunc("/api/stop", s.stop)
	return mux
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, loop.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, calibration.ErrPersonNotVisible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, loop.ErrInitializationFailure), errors.Is(err, loop.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, landmark.ErrWrongArity):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type statusResponse struct {
	Build      version.Info     `json:"build"`
	Loop       loop.Stats       `json:"loop"`
	Publisher  *publisher.Stats `json:"publisher,omitempty"`
	Calibrated bool             `json:"calibrated"`
	Buffered   int              `json:"buffered"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	_, calibrated := s.loop.Calibration()
	resp := statusResponse{
		Build:      version.Get(),
		Loop:       s.loop.Stats(),
		Calibrated: calibrated,
		Buffered:   s.loop.Detector().Buffered(),
	}
	if s.pub != nil {
		st := s.pub.Stats()
		resp.Publisher = &st
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showAnalysis(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.loop.Last())
}

// submitFrame classifies one posted frame directly, bypassing the source.
// An empty landmark list is a valid "nobody seen" frame.
func (s *Server) submitFrame(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes+1))
	if err != nil {
		httputil.BadRequest(w, "Failed to read body")
		return
	}
	if len(body) > maxFrameBytes {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "Frame too large")
		return
	}
	f, err := landmark.Decode(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.loop.SubmitFrame(f))
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	b, err := s.loop.Calibrate(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, b)
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	if r.Method == http.MethodDelete {
		s.loop.ClearCalibration()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	b, ok := s.loop.Calibration()
	if !ok {
		httputil.NotFound(w, "Not calibrated")
		return
	}
	httputil.WriteJSONOK(w, b)
}

// start initializes the source if needed and begins periodic detection.
func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	if err := s.loop.Initialize(r.Context()); err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	if err := s.loop.Start(s.ctx); err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]loop.State{"state": s.loop.State()})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	s.loop.Stop()
	httputil.WriteJSONOK(w, map[string]loop.State{"state": s.loop.State()})
}

// streamEvents relays forwarded analyses as server-sent events.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	if s.pub == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "Event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	id, ch, err := s.pub.Subscribe()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer s.pub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case a, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(a)
			if err != nil {
				log.Printf("failed to encode analysis: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: analysis\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
