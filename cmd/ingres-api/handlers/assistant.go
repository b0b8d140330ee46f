// Package handlers provides HTTP handlers for the assistant API.
package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/ingres-ai/ingres-assistant/internal/assistant"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// SessionHeader carries the chat session id in both directions.
const SessionHeader = "X-Session-ID"

// Assistant is what the handlers serve.
type Assistant interface {
	Ask(ctx context.Context, req assistant.AskRequest) assistant.Reply
	News(ctx context.Context) []string
	Health() assistant.Health
}

// AssistantHandler handles chat, news and health requests.
type AssistantHandler struct {
	logger    *observability.Logger
	assistant Assistant
}

// NewAssistantHandler creates a new assistant handler.
func NewAssistantHandler(logger *observability.Logger, a Assistant) *AssistantHandler {
	return &AssistantHandler{
		logger:    logger.WithOperation("http"),
		assistant: a,
	}
}

// AskRequestDTO represents the API request for one chat turn.
type AskRequestDTO struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// NewsResponseDTO represents the news response.
type NewsResponseDTO struct {
	News []string `json:"news"`
}

// Ask handles POST /ask.
func (h *AssistantHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO AskRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(reqDTO.Message) == "" {
		h.writeError(w, http.StatusBadRequest, "message is required", "")
		return
	}

	session := reqDTO.SessionID
	if session == "" {
		session = r.Header.Get(SessionHeader)
	}

	reply := h.assistant.Ask(ctx, assistant.AskRequest{SessionID: session, Message: reqDTO.Message})
	w.Header().Set(SessionHeader, reply.SessionID)

	if reqDTO.Stream || wantsEventStream(r) {
		h.stream(w, r, reply)
		return
	}
	h.writeJSON(w, http.StatusOK, reply)
}

// News handles GET /news.
func (h *AssistantHandler) News(w http.ResponseWriter, r *http.Request) {
	headlines := h.assistant.News(r.Context())
	if headlines == nil {
		headlines = []string{}
	}
	h.writeJSON(w, http.StatusOK, NewsResponseDTO{News: headlines})
}

// Health handles GET /health and GET /.
func (h *AssistantHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.assistant.Health())
}

func wantsEventStream(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == "text/event-stream" {
			return true
		}
	}
	return false
}

func (h *AssistantHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *AssistantHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}
