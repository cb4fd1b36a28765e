// internal/localapi/server.go
package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/stratforge/internal/orchestrator"
	"github.com/user/stratforge/internal/types"
)

// Server is the serve daemon's local HTTP surface: a health check, a
// read-only session snapshot, and prompt submission. It is bound to
// loopback by default and carries no authentication.
type Server struct {
	orch *orchestrator.Orchestrator
	mux  *http.ServeMux
}

// NewServer creates a local API server over the given orchestrator.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		orch: orch,
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /session", s.handleSession)
	s.mux.HandleFunc("POST /prompt", s.handlePrompt)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionView is the JSON shape of a session snapshot.
type sessionView struct {
	Conversation      []types.ConversationTurn `json:"conversation"`
	CurrentResult     *types.GenerationResult  `json:"current_result,omitempty"`
	Activities        []types.AgentActivity    `json:"activities"`
	Busy              bool                     `json:"busy"`
	LastError         string                   `json:"last_error,omitempty"`
	FeedbackSubmitted bool                     `json:"feedback_submitted"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Store().Snapshot()
	writeJSON(w, http.StatusOK, sessionView{
		Conversation:      snap.Conversation,
		CurrentResult:     snap.CurrentResult,
		Activities:        snap.Activities,
		Busy:              snap.Busy,
		LastError:         snap.LastError,
		FeedbackSubmitted: snap.FeedbackSubmitted,
	})
}

// promptRequest is the JSON body for POST /prompt.
type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing prompt"})
		return
	}

	// Reject conflicting submissions synchronously, then let the
	// generation run in the background; callers watch GET /session.
	if s.orch.Store().Busy() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": orchestrator.ErrBusy.Error()})
		return
	}

	// The request context dies when this handler returns; the
	// generation must outlive it.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.orch.SubmitPrompt(ctx, req.Prompt); err != nil {
			if errors.Is(err, orchestrator.ErrBusy) {
				return // lost the race to another submission
			}
			slog.Warn("prompt submission failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
