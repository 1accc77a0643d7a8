package conversation

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/service/avatar"
	convservice "github.com/zhouzirui/avatharam/backend/internal/service/conversation"
	"github.com/zhouzirui/avatharam/backend/internal/viewer"
	"github.com/zhouzirui/avatharam/backend/pkg/utils"
)

// NoticeStartInterrupted 会话启动被取消（例如客户端断开）时的提示。
const NoticeStartInterrupted = "Session start was interrupted."

// SessionResponse 会话启动结果，不包含访问令牌。
type SessionResponse struct {
	State      avatar.State `json:"state"`
	SessionID  string       `json:"sessionId,omitempty"`
	ICEServers int          `json:"iceServers"`
	Notice     string       `json:"notice,omitempty"`
}

// StopResponse 会话停止结果。
type StopResponse struct {
	Attempted bool   `json:"attempted"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

func stopResponse(res avatar.StopResult) StopResponse {
	out := StopResponse{Attempted: res.Attempted, SessionID: res.SessionID}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// handleStartSession 启动或替换数字人会话。?stream=1 时以 SSE 推送状态变化。
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("stream") == "1" {
		h.streamStartSession(w, r, conv)
		return
	}

	session, err := h.orchestrator.StartSession(r.Context(), conv)
	if err != nil {
		if avatar.IsHandshakeError(err) {
			utils.RespondError(w, http.StatusBadGateway, err.Error())
			return
		}
		utils.RespondJSON(w, http.StatusOK, SessionResponse{State: conv.Avatar.State(), Notice: NoticeStartInterrupted})
		return
	}

	utils.RespondJSON(w, http.StatusOK, SessionResponse{
		State:      avatar.StateReady,
		SessionID:  session.SessionID,
		ICEServers: len(session.ICEServers),
	})
}

// streamStartSession 推送 transition 事件，最后以 ready 或 error 事件结束。
func (h *Handler) streamStartSession(w http.ResponseWriter, r *http.Request, conv *convservice.Conversation) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	transitions, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	type startResult struct {
		session avatar.Session
		err     error
	}
	done := make(chan startResult, 1)
	go func() {
		session, err := h.orchestrator.StartSession(r.Context(), conv)
		done <- startResult{session: session, err: err}
	}()

	send := func(event string, data any) bool {
		if err := utils.SendSSEEvent(w, flusher, event, data); err != nil {
			h.logger.Warn("session stream write failed", zap.String("conversation_id", conv.ID), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case t := <-transitions:
			if !send("transition", t) {
				return
			}
		case res := <-done:
			// 观察者在 Start 返回前已同步投递，剩余事件都在缓冲区中。
			for drained := false; !drained; {
				select {
				case t := <-transitions:
					if !send("transition", t) {
						return
					}
				default:
					drained = true
				}
			}
			if res.err != nil {
				h.logger.Warn("streamed session start failed", zap.String("conversation_id", conv.ID), zap.Error(res.err))
				send("error", map[string]string{"error": res.err.Error()})
				return
			}
			send("ready", SessionResponse{
				State:      avatar.StateReady,
				SessionID:  res.session.SessionID,
				ICEServers: len(res.session.ICEServers),
			})
			return
		}
	}
}

// handleStopSession 停止数字人会话，远端失败只体现在结果中。
func (h *Handler) handleStopSession(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	res := h.orchestrator.StopSession(detached(r.Context()), conv)
	utils.RespondJSON(w, http.StatusOK, stopResponse(res))
}

// handleViewer 渲染连接当前会话的播放器页面
func (h *Handler) handleViewer(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	session, ready := conv.Avatar.Session()
	if !ready {
		utils.RespondError(w, http.StatusConflict, viewer.ErrIncompleteSession.Error())
		return
	}

	html, err := h.viewer.Render(session)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, viewer.ErrIncompleteSession) {
			status = http.StatusConflict
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}
