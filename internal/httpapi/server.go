// Package httpapi exposes the minimal HTTP/SSE boundary spec §4.11
// calls for: enqueue a function invocation, enqueue a chat turn,
// enqueue an approval decision, and relay a chat channel's stream over
// SSE. Everything heavier — auth, dashboards, declarative packaging —
// stays out per spec Non-goals; every handler here does nothing but
// validate a request body and hand it to JobQueue or StreamRelay.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nexora-ai/core/internal/jobqueue"
	"github.com/nexora-ai/core/internal/stream"
)

// DefaultInvokeTimeout bounds a synchronous (wait=true) function
// invocation when the caller supplies no timeout_ms.
const DefaultInvokeTimeout = 2 * time.Minute

// Server holds the two collaborators every handler needs: the durable
// job queue to enqueue onto, and the stream relay to subscribe from.
type Server struct {
	Queue  *jobqueue.Queue
	Stream *stream.Relay
	Logger *slog.Logger
}

// NewServer constructs a Server, defaulting Logger to slog.Default().
func NewServer(queue *jobqueue.Queue, relay *stream.Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Queue: queue, Stream: relay, Logger: logger}
}

// Router builds the chi.Router exposing exactly the four routes spec
// §4.11 names.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/functions/{ns}/{name}/invoke", s.handleInvokeFunction)
	r.Post("/v1/chats/{chat_id}/messages", s.handleSendMessage)
	r.Post("/v1/approvals/{approval_id}/decision", s.handleApprovalDecision)
	r.Get("/v1/stream/{channel_id}", s.handleStream)

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// headers are already sent; nothing left to do but log upstream.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
