package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-chat/backend/internal/handler/apierr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/turn"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

var errStreamingUnsupported = errors.New("streaming unsupported")

// TurnRunner executes one conversational turn with progressive reveal.
type TurnRunner interface {
	Run(ctx context.Context, sessionID, input string, reveal turn.RevealFunc) (chat.Message, error)
}

// SessionLookup resolves sessions before the event stream opens.
type SessionLookup interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
}

// Handler manages streaming replies via Server-Sent Events
type Handler struct {
	turns    TurnRunner
	sessions SessionLookup
}

// New creates a new stream handler
func New(turns TurnRunner, sessions SessionLookup) *Handler {
	return &Handler{
		turns:    turns,
		sessions: sessions,
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")

	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		apierr.Respond(w, err)
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
		if errors.Is(err, errStreamingUnsupported) {
			utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		log.Printf("[stream] session=%s: %v", sessionID, err)
	}
}

// HandleStreamRequest runs a turn and relays it as start, delta, message and
// end events. Failures after the stream opened are sent as an error event.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errStreamingUnsupported
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start", SessionID: sessionID}); err != nil {
		return err
	}

	reply, err := h.turns.Run(ctx, sessionID, userMessage, func(chunk string) error {
		return utils.SendSSEChunk(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   chunk,
		})
	})
	if err != nil {
		if reply.ID != "" {
			// 回复已保存，仅是展示中断（通常是客户端断开）。
			return fmt.Errorf("reveal interrupted: %w", err)
		}
		_, code := apierr.Classify(err)
		if sendErr := utils.SendSSEChunk(w, flusher, StreamResponse{
			Event:     "error",
			SessionID: sessionID,
			Error:     apierr.Message(err),
			Code:      string(code),
		}); sendErr != nil {
			return sendErr
		}
		return err
	}

	if err := utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		MessageID: reply.ID,
		Content:   reply.Content,
	}); err != nil {
		return err
	}

	if err := utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	}); err != nil {
		return err
	}

	log.Printf("[stream] completed response for session=%s", sessionID)
	return nil
}
