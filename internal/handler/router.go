package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-chat/backend/internal/handler/preset"
	"github.com/zhouzirui/z-chat/backend/internal/handler/session"
	"github.com/zhouzirui/z-chat/backend/internal/handler/stream"
	"github.com/zhouzirui/z-chat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/z-chat/backend/internal/middleware"
	presetModel "github.com/zhouzirui/z-chat/backend/internal/model/preset"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	turnService "github.com/zhouzirui/z-chat/backend/internal/service/turn"
	"github.com/zhouzirui/z-chat/backend/internal/web"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(presets presetModel.Store, chatSvc *chatService.Service, turnSvc *turnService.Service, opts session.Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	presetHandler := preset.New(presets)
	sessionHandler := session.New(chatSvc, turnSvc, presets, opts)
	streamHandler := stream.New(turnSvc, chatSvc)
	wsHandler := ws.New(chatSvc, turnSvc)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		presetHandler.RegisterRoutes(api)
		sessionHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	r.Handle("/*", web.Handler())

	return r
}
