package conversation

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/logging"
	convservice "github.com/zhouzirui/avatharam/backend/internal/service/conversation"
	"github.com/zhouzirui/avatharam/backend/internal/viewer"
	"github.com/zhouzirui/avatharam/backend/pkg/utils"
)

// maxAudioUpload 单次录音上传的上限。
const maxAudioUpload = 32 << 20

// Handler 会话相关的HTTP处理器
type Handler struct {
	store        *convservice.Store
	orchestrator *convservice.Orchestrator
	viewer       *viewer.Renderer
	logger       logging.Logger
}

// New 创建会话处理器
func New(store *convservice.Store, orchestrator *convservice.Orchestrator, renderer *viewer.Renderer, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		store:        store,
		orchestrator: orchestrator,
		viewer:       renderer,
		logger:       logger,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleCreate)
	r.Get("/conversations", h.handleList)

	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleDelete)

		r.Post("/session/start", h.handleStartSession)
		r.Post("/session/stop", h.handleStopSession)
		r.Get("/viewer", h.handleViewer)

		r.Post("/speak", h.handleSpeak)
		r.Put("/text", h.handleEditText)
		r.Post("/chat", h.handleChat)

		r.Post("/audio", h.handleAudio)
		r.Get("/audio/playback", h.handlePlayback)

		r.Get("/debug", h.handleDebug)
	})
}

// conversation 解析路径中的会话，不存在时写入 404 并返回 false。
func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) (*convservice.Conversation, bool) {
	conv, err := h.store.Get(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		if errors.Is(err, convservice.ErrConversationNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
		} else {
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return conv, true
}

// handleCreate 创建会话
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AvatarID string `json:"avatarId"`
		VoiceID  string `json:"voiceId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.store.Create(r.Context(), payload.AvatarID, payload.VoiceID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, convservice.ErrAvatarRequired) {
			status = http.StatusBadRequest
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, conv.Snapshot())
}

// handleList 列出会话
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	conversations := h.store.List(r.Context())
	out := make([]convservice.Snapshot, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, conv.Snapshot())
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

// handleGet 返回会话快照
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv.Snapshot())
}

// handleDelete 停止数字人会话并删除会话
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.Delete(detached(r.Context()), chi.URLParam(r, "conversationID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, stopResponse(res))
}

// handleSpeak 让数字人直接朗读文本
func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := h.orchestrator.Speak(r.Context(), conv, payload.Text)
	utils.RespondJSON(w, http.StatusOK, res)
}

// handleEditText 手动修改可编辑文本
func (h *Handler) handleEditText(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text *string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Text == nil {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.orchestrator.Edit(conv, *payload.Text))
}

// handleChat 提交一轮对话；未提供 text 时使用当前可编辑文本。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text *string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text := conv.State().EditableText
	if payload.Text != nil {
		text = *payload.Text
	}

	res := h.orchestrator.Submit(r.Context(), conv, text)
	if res.SpeakErr != nil {
		h.logger.Debug("chat reply not spoken", zap.String("conversation_id", conv.ID), zap.Error(res.SpeakErr))
	}
	utils.RespondJSON(w, http.StatusOK, res)
}

// handleDebug 返回调试日志
func (h *Handler) handleDebug(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, struct {
		Lines []string `json:"lines"`
	}{
		Lines: conv.Debug.Lines(),
	})
}

// detached 返回不随客户端断开而取消的上下文，用于必须完成的清理请求。
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
