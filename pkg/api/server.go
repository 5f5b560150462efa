// Package api exposes a thin, read-only HTTP status surface over a Core's
// progress (halt-mark, last committed epoch): gorilla/mux routing, rs/cors
// for browser access, one endpoint. It is not load-bearing for consensus
// correctness.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/epochbft/epochbft/pkg/consensus"
)

// StatusSource is the subset of *consensus.Core the server reads.
type StatusSource interface {
	Status() consensus.Status
}

// Server is a minimal read-only HTTP surface over one authority's Core.
type Server struct {
	core   StatusSource
	router *mux.Router
}

// NewServer wires the /status endpoint against core.
func NewServer(core StatusSource) *Server {
	s := &Server{core: core, router: mux.NewRouter()}
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return s
}

// Start serves on addr until the process exits or ListenAndServe errors.
func (s *Server) Start(addr string) error {
	handler := cors.Default().Handler(s.router)
	return http.ListenAndServe(addr, handler)
}

type statusResponse struct {
	HaltMark       uint64 `json:"halt_mark"`
	LastCommitted  uint64 `json:"last_committed_epoch"`
	LastCommitHash string `json:"last_commit_hash"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.core.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		HaltMark:       uint64(status.HaltMark),
		LastCommitted:  uint64(status.LastCommitted),
		LastCommitHash: status.LastCommitHash.String(),
	})
}
