package chat

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/greanly/pkg/logging"
)

const maxBodyBytes = 1 << 20

// Handler serves the chat endpoints.
type Handler struct {
	orchestrator *Orchestrator
	logger       *logging.Logger
}

func NewHandler(orchestrator *Orchestrator, logger *logging.Logger) *Handler {
	if orchestrator == nil {
		panic("chat: orchestrator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{orchestrator: orchestrator, logger: logger}
}

// Stream answers with a UI message stream. It always responds 200; failures
// surface as the fallback message inside the stream.
// POST /api/chat
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithRequest(middleware.GetReqID(r.Context()))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("failed to read chat body", "error", err)
		body = nil
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		logger.Error("streaming not supported", "error", err)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	writeFailed := false
	for ev := range h.orchestrator.Serve(r.Context(), body) {
		if writeFailed {
			continue
		}
		if err := sse.WriteEvent(ev); err != nil {
			logger.Info("client stopped reading chat stream", "error", err)
			writeFailed = true
		}
	}
	if !writeFailed {
		_ = sse.WriteDone()
	}
}

// Reply is the non-streaming variant: it collects the answer text and
// returns it as JSON.
// POST /api/chat/reply
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithRequest(middleware.GetReqID(r.Context()))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	messages, err := DecodeRequest(body)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(LatestUserText(messages)) == "" {
		jsonError(w, "a user message with text is required", http.StatusBadRequest)
		return
	}

	var reply strings.Builder
	for ev := range h.orchestrator.Serve(r.Context(), body) {
		if ev.Type == EventTextDelta {
			reply.WriteString(ev.Delta)
		}
	}
	if r.Context().Err() != nil {
		logger.Info("client went away before reply completed")
		return
	}
	if reply.Len() == 0 {
		logger.Error("chat reply produced no text")
		jsonError(w, "no reply generated", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply.String()})
}

// Config exposes the UI constants the frontend renders.
// GET /api/config
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"aiName":         AssistantName,
		"ownerName":      OwnerName,
		"welcomeMessage": WelcomeMessage,
		"clearChatText":  ClearChatText,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
