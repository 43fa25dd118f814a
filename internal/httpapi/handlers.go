package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nexora-ai/core/pkg/coretypes"
)

// invokeFunctionRequest is the body of POST /v1/functions/{ns}/{name}/invoke.
type invokeFunctionRequest struct {
	InputData json.RawMessage `json:"input_data"`
	UserID    string          `json:"user_id"`
	ChatID    string          `json:"chat_id,omitempty"`
	Wait      bool            `json:"wait"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`
}

// handleInvokeFunction enqueues a function job and, when wait=true,
// blocks for its done envelope before responding — spec §4.11's
// "enqueue + optional wait".
func (s *Server) handleInvokeFunction(w http.ResponseWriter, r *http.Request) {
	var req invokeFunctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	payload := coretypes.FunctionJobPayload{
		FunctionNamespace: chi.URLParam(r, "ns"),
		FunctionName:      chi.URLParam(r, "name"),
		InputData:         req.InputData,
		ExecutionID:       uuid.NewString(),
		TriggerType:       coretypes.TriggerManual,
		UserID:            req.UserID,
		ChatID:            req.ChatID,
	}

	if !req.Wait {
		jobID, err := s.Queue.EnqueueFunction(r.Context(), payload)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "execution_id": payload.ExecutionID})
		return
	}

	timeout := DefaultInvokeTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	env, err := s.Queue.EnqueueAndWait(r.Context(), payload, timeout)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// sendMessageRequest is the body of POST /v1/chats/{chat_id}/messages.
type sendMessageRequest struct {
	UserID    string `json:"user_id"`
	UserToken string `json:"user_token,omitempty"`
	Content   string `json:"content"`
	ChannelID string `json:"channel_id,omitempty"`
}

// handleSendMessage enqueues an agent_message job for the AgentWorker to
// pick up, returning the channel_id the caller should subscribe to for
// the resulting stream.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chat_id")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "user_id and content are required")
		return
	}
	channelID := req.ChannelID
	if channelID == "" {
		channelID = uuid.NewString()
	}

	jobID, err := s.Queue.EnqueueAgentMessage(r.Context(), coretypes.AgentMessageJobPayload{
		ChatID:    chatID,
		UserID:    req.UserID,
		UserToken: req.UserToken,
		Content:   req.Content,
		ChannelID: channelID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "channel_id": channelID})
}

// approvalDecisionRequest is the body of POST /v1/approvals/{approval_id}/decision.
type approvalDecisionRequest struct {
	Approved  bool   `json:"approved"`
	ChannelID string `json:"channel_id,omitempty"`
}

// handleApprovalDecision enqueues an agent_resume job carrying the
// human's approve/reject decision.
func (s *Server) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approval_id")

	var req approvalDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	channelID := req.ChannelID
	if channelID == "" {
		channelID = uuid.NewString()
	}

	jobID, err := s.Queue.EnqueueAgentResume(r.Context(), coretypes.AgentResumeJobPayload{
		ApprovalID: approvalID,
		Approved:   req.Approved,
		ChannelID:  channelID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "channel_id": channelID})
}

// handleStream relays a chat channel's StreamRelay envelopes as SSE
// `data:` lines per spec §6.4, terminating the connection on a done or
// error envelope or when the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.Stream.Subscribe(r.Context(), channelID)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			body, err := json.Marshal(event)
			if err != nil {
				s.Logger.WarnContext(r.Context(), "httpapi: marshal stream event failed", "channel_id", channelID, "error", err)
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(body); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()

			if event.Type == coretypes.StreamDone || event.Type == coretypes.StreamError {
				return
			}
		}
	}
}
