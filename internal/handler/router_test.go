package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/handler/session"
	"github.com/zhouzirui/z-chat/backend/internal/llm"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	presetModel "github.com/zhouzirui/z-chat/backend/internal/model/preset"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	turnService "github.com/zhouzirui/z-chat/backend/internal/service/turn"
)

type offlineReplier struct{}

func (offlineReplier) ResolveCredential(chat.Settings) (string, error) {
	return "", llm.ErrMissingCredential
}

func (offlineReplier) StreamingEnabled() bool { return false }

func (offlineReplier) GenerateResponse(context.Context, ai.Request) (*schema.Message, error) {
	return nil, errors.New("offline")
}

func (offlineReplier) StreamResponse(context.Context, ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("offline")
}

func newTestRouter() http.Handler {
	presets := presetModel.NewMemoryStore(presetModel.Seed())
	chatSvc := chatService.NewService(chatService.WithModels(config.DefaultModels))
	turnSvc := turnService.NewService(chatSvc, offlineReplier{}, config.TurnConfig{})
	return NewRouter(presets, chatSvc, turnSvc, session.Options{
		Models:   config.DefaultModels,
		Defaults: chat.DefaultSettings(config.DefaultModels[0]),
	})
}

func TestRouterServesAPIAndWidget(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/options", http.StatusOK},
		{http.MethodGet, "/api/presets", http.StatusOK},
		{http.MethodPost, "/api/sessions", http.StatusCreated},
		{http.MethodGet, "/api/sessions/missing", http.StatusNotFound},
		{http.MethodGet, "/api/stream/missing?message=hi", http.StatusNotFound},
		{http.MethodGet, "/", http.StatusOK},
	}

	for _, tt := range tests {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(tt.method, tt.path, nil))
		if resp.Code != tt.status {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.status, resp.Code)
		}
	}
}

func TestRouterWidgetIsHTML(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, req)

	if !strings.Contains(resp.Body.String(), "<title>Groq Chatbot</title>") {
		t.Fatal("expected embedded widget")
	}
	if resp.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS headers")
	}
}
