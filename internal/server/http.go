package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muurk/discovery/internal/logging"
	"github.com/muurk/discovery/internal/ssdp"
	"github.com/muurk/discovery/internal/version"
)

// ServicesResponse is the body of GET /api/services
type ServicesResponse struct {
	Session  string               `json:"session"`
	State    string               `json:"state"`
	Count    int                  `json:"count"`
	Services []ssdp.ServiceRecord `json:"services"`
}

// BroadcastResponse is the body of POST /api/broadcast
type BroadcastResponse struct {
	Session string `json:"session"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is the body of failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP routes of the feed server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("POST /api/broadcast", s.handleBroadcast)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())
	return withRequestLogging(mux)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, ServicesResponse{
		Session:  s.engine.Session(),
		State:    s.engine.State().String(),
		Count:    len(services),
		Services: services,
	})
}

// handleBroadcast waits for the send outcome, bounded by the request context
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	result := s.engine.Broadcast()

	select {
	case err := <-result:
		if err != nil {
			logging.Warn("Broadcast requested over HTTP failed", zap.Error(err))
			writeJSON(w, http.StatusBadGateway, BroadcastResponse{
				Session: s.engine.Session(),
				Error:   err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusAccepted, BroadcastResponse{Session: s.engine.Session()})
	case <-r.Context().Done():
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: r.Context().Err().Error()})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Server", version.ServerToken())
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write JSON response", zap.Error(err))
	}
}

// statusRecorder captures the status code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes the websocket upgrade through to the underlying writer
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rec.status)
	})
}
