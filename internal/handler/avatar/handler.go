package avatar

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/avatharam/backend/internal/model/avatar"
	"github.com/zhouzirui/avatharam/backend/pkg/utils"
)

// Handler 数字人目录的HTTP处理器
type Handler struct {
	avatars avatar.Store
}

// New 创建数字人目录处理器
func New(avatars avatar.Store) *Handler {
	return &Handler{
		avatars: avatars,
	}
}

// RegisterRoutes 注册数字人相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/avatars", h.handleListAvatars)
}

// handleListAvatars 列出可选数字人，第一个为默认项
func (h *Handler) handleListAvatars(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Default string          `json:"default,omitempty"`
		Avatars []avatar.Avatar `json:"avatars"`
	}
	payload.Avatars = h.avatars.List()
	if payload.Avatars == nil {
		payload.Avatars = []avatar.Avatar{}
	}
	if def, ok := h.avatars.Default(); ok {
		payload.Default = def.ID
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}
