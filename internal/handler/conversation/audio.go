package conversation

import (
	"errors"
	"io"
	"net/http"

	"github.com/zhouzirui/avatharam/backend/pkg/utils"
)

// handleAudio 接收一段录音（multipart 字段 audio），识别后覆盖可编辑文本。
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio upload too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	// 客户端声明的 Content-Type 不可信，类型由内容嗅探决定。
	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	res := h.orchestrator.Dictate(r.Context(), conv, data)
	utils.RespondJSON(w, http.StatusOK, res)
}

// handlePlayback 返回最近一次归一化后的录音
func (h *Handler) handlePlayback(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	playback, ok := conv.Playback()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no recording yet")
		return
	}

	w.Header().Set("Content-Type", playback.MIME)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(playback.Data)
}
