package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/avatharam/backend/internal/handler/avatar"
	"github.com/zhouzirui/avatharam/backend/internal/handler/conversation"
	"github.com/zhouzirui/avatharam/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/avatharam/backend/internal/middleware"
	avatarModel "github.com/zhouzirui/avatharam/backend/internal/model/avatar"
	convService "github.com/zhouzirui/avatharam/backend/internal/service/conversation"
	"github.com/zhouzirui/avatharam/backend/internal/viewer"
	"github.com/zhouzirui/avatharam/backend/pkg/utils"
)

// Deps 路由所需的服务。
type Deps struct {
	Avatars       avatarModel.Store
	Conversations *convService.Store
	Orchestrator  *convService.Orchestrator
	Viewer        *viewer.Renderer
	// SpeechBackends 只用于健康检查展示。
	SpeechBackends []string
	Logger         logging.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	avatarHandler := avatar.New(deps.Avatars)
	conversationHandler := conversation.New(deps.Conversations, deps.Orchestrator, deps.Viewer, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			backends := deps.SpeechBackends
			if backends == nil {
				backends = []string{}
			}
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":         "ok",
				"chatEnabled":    deps.Orchestrator.ChatEnabled(),
				"speechBackends": backends,
			})
		})

		// Register avatar catalog routes
		avatarHandler.RegisterRoutes(api)

		// Register conversation routes
		conversationHandler.RegisterRoutes(api)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "route not found")
	})

	return r
}
