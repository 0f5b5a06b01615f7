package session

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-chat/backend/internal/handler/apierr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/model/preset"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/turn"
	"github.com/zhouzirui/z-chat/backend/internal/transcript"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// TurnRunner executes one conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, sessionID, input string, reveal turn.RevealFunc) (chat.Message, error)
}

// Options 描述客户端可选的配置项
type Options struct {
	Models           []string
	Defaults         chat.Settings
	ServerCredential bool
}

// Handler 会话相关的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	turns    TurnRunner
	presets  preset.Store
	opts     Options
	exporter transcript.Exporter
}

// New 创建会话处理器
func New(chatSvc *chatService.Service, turns TurnRunner, presets preset.Store, opts Options) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		turns:    turns,
		presets:  presets,
		opts:     opts,
		exporter: transcript.TextExporter{},
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/options", h.handleOptions)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Put("/sessions/{sessionID}/settings", h.handleUpdateSettings)
	r.Delete("/sessions/{sessionID}/messages", h.handleClear)
	r.Get("/sessions/{sessionID}/transcript", h.handleTranscript)
	r.Post("/sessions/{sessionID}/turns", h.handleTurn)
}

type bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type optionsResponse struct {
	Models           []string            `json:"models"`
	Presets          []preset.Preset     `json:"presets"`
	Strategies       []chat.StrategyInfo `json:"strategies"`
	Bounds           map[string]bounds   `json:"bounds"`
	Defaults         chat.Settings       `json:"defaults"`
	ServerCredential bool                `json:"serverCredential"`
}

// handleOptions 返回模型、预设、记忆策略与参数范围
func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, optionsResponse{
		Models:     h.opts.Models,
		Presets:    h.presets.List(),
		Strategies: chat.Strategies(),
		Bounds: map[string]bounds{
			"temperature": {Min: chat.MinTemperature, Max: chat.MaxTemperature},
			"maxTokens":   {Min: chat.MinMaxTokens, Max: chat.MaxMaxTokens},
			"windowSize":  {Min: chat.MinWindowSize, Max: chat.MaxWindowSize},
		},
		Defaults:         h.opts.Defaults,
		ServerCredential: h.opts.ServerCredential,
	})
}

type sessionView struct {
	chat.Session
	HasAPIKey       bool           `json:"hasApiKey"`
	Messages        []chat.Message `json:"messages"`
	ExportAvailable bool           `json:"exportAvailable"`
}

func (h *Handler) view(ctx context.Context, session chat.Session) (sessionView, error) {
	messages, err := h.chatSvc.LoadTranscript(ctx, session.ID)
	if err != nil {
		return sessionView{}, err
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	return sessionView{
		Session:         session,
		HasAPIKey:       session.Settings.HasAPIKey(),
		Messages:        messages,
		ExportAvailable: len(messages) > 0,
	}, nil
}

// handleCreateSession 创建会话，请求体中的设置覆盖默认值
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var patch chat.SettingsPatch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := patch.Apply(h.opts.Defaults)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	if !h.knownPreset(settings.PresetID) {
		utils.RespondError(w, http.StatusBadRequest, "preset not found")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), settings)
	if err != nil {
		apierr.Respond(w, err)
		return
	}

	view, err := h.view(r.Context(), session)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		apierr.Respond(w, err)
		return
	}

	view, err := h.view(r.Context(), session)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		apierr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateSettings 更新会话设置；记忆配置变化时历史会被清空
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch chat.SettingsPatch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if patch.PresetID != nil && !h.knownPreset(*patch.PresetID) {
		utils.RespondError(w, http.StatusBadRequest, "preset not found")
		return
	}

	session, reset, err := h.chatSvc.UpdateSettings(r.Context(), chi.URLParam(r, "sessionID"), patch)
	if err != nil {
		apierr.Respond(w, err)
		return
	}

	view, err := h.view(r.Context(), session)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, struct {
		sessionView
		MemoryReset bool `json:"memoryReset"`
	}{view, reset})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.Clear(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		apierr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTranscript 以纯文本附件导出对话
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	if len(messages) == 0 {
		apierr.Respond(w, apierr.ErrNothingToExport)
		return
	}

	data, err := h.exporter.Export(messages)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondAttachment(w, transcript.Filename, h.exporter.MimeType(), data)
}

// handleTurn 同步执行一轮对话并返回完整回复
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.turns.Run(r.Context(), chi.URLParam(r, "sessionID"), payload.Message, nil)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"message": reply})
}

func (h *Handler) knownPreset(id string) bool {
	_, ok := h.presets.FindByID(id)
	return ok
}
