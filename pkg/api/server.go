package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
)

// Pipeline is the control surface of a running inference pipeline
type Pipeline interface {
	GetStatus() interface{}
	Describe() (string, error)
	Stop() error
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host     string
	Port     int
	Pipeline Pipeline
	Log      logs.Log
}

// Server is the HTTP API server
type Server struct {
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	s := &Server{cfg: cfg}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.Handler(),
	}

	return s
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/pipeline", s.handlePipeline)
	mux.HandleFunc("/api/v1/stop", s.handleStop)
	return mux
}

// Start starts the API server
func (s *Server) Start() error {
	s.cfg.Log.Infof("API server starting on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Serve serves the API on an existing listener
func (s *Server) Serve(l net.Listener) error {
	s.cfg.Log.Infof("API server listening on %s", l.Addr())
	return s.server.Serve(l)
}

// Stop stops the API server
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "go-inference-pipeline",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Pipeline.GetStatus())
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	desc, err := s.cfg.Pipeline.Describe()
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status": "invalid",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"description": desc,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.cfg.Pipeline.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.cfg.Log.Infof("Pipeline stop requested by %s", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}
