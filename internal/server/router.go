package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /signals", s.handleSignals)
	mux.HandleFunc("GET /signals/{name}", s.handleSignal)
	mux.HandleFunc("GET /groups/{name}", s.handleGroup)
	mux.HandleFunc("POST /frames", s.handleFrames)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("POST /replay", s.handleReplay)
	mux.HandleFunc("GET /artifacts", s.handleArtifacts)
	mux.HandleFunc("GET /artifacts/{id}", s.handleArtifactDownload)
	mux.Handle("GET /metrics", s.collector.Handler())
	return mux
}
