package speech

import "strings"

// MIME types produced by audio sniffing.
const (
	MIMEWav  = "audio/wav"
	MIMEMP3  = "audio/mpeg"
	MIMEOgg  = "audio/ogg"
	MIMEWebM = "audio/webm"
	MIMEMP4  = "audio/mp4"
)

// CapturedAudio 一次录音停止事件产生的音频，仅在本次交互内使用，不落盘。
type CapturedAudio struct {
	Data []byte `json:"-"`
	MIME string `json:"mime"`
}

// Format 返回容器格式的短名（wav/mp3/webm/ogg/mp4），未知类型按 wav 处理。
func (a CapturedAudio) Format() string {
	return FormatFor(a.MIME)
}

// FormatFor maps a MIME type to its container short name.
func FormatFor(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case MIMEMP3, "audio/mp3":
		return "mp3"
	case MIMEWebM, "video/webm":
		return "webm"
	case MIMEOgg, "audio/opus":
		return "ogg"
	case MIMEMP4, "audio/m4a", "audio/x-m4a", "video/mp4":
		return "mp4"
	default:
		return "wav"
	}
}
