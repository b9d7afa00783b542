package api

import (
	"encoding/json"
	"net/http"

	"github.com/raisekit/outreach-orchestrator/internal/engine"
	"github.com/raisekit/outreach-orchestrator/internal/store"
)

// Server is the HTTP API server for the approval workflow
type Server struct {
	store  *store.Store
	engine *engine.Engine
	addr   string
	mux    *http.ServeMux
	sseHub *SSEHub
}

// NewServer creates a new API server
func NewServer(st *store.Store, eng *engine.Engine, addr string) *Server {
	s := &Server{
		store:  st,
		engine: eng,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/workspaces", s.listWorkspacesHandler())
	s.mux.HandleFunc("/api/firms", s.listFirmsHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/requests", s.listRequestsHandler())
	s.mux.HandleFunc("/api/requests/bulk/approve", s.bulkApproveHandler())
	s.mux.HandleFunc("/api/requests/bulk/reject", s.bulkRejectHandler())
	s.mux.HandleFunc("/api/requests/", s.requestHandler())
	s.mux.HandleFunc("/api/events", s.listEventsHandler())
	s.mux.HandleFunc("/api/events/stream", s.sseHandler())
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.sseHub.Run()
	return http.ListenAndServe(s.addr, s.mux)
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
