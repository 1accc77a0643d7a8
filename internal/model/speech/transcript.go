package speech

import "time"

// NoSpeechRecognized 所有识别后端都失败或结果为空时返回的固定文本。
const NoSpeechRecognized = "(no speech recognized)"

// BackendFailure 记录单个识别后端的失败原因。
type BackendFailure struct {
	Backend string `json:"backend"`
	Reason  string `json:"reason"`
}

// Transcription 语音识别结果。识别失败不会以 error 返回，调用方通过 OK 判断。
type Transcription struct {
	Text      string           `json:"text"`
	Backend   string           `json:"backend,omitempty"`
	Failures  []BackendFailure `json:"failures,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// OK reports whether a backend produced a transcript.
func (t Transcription) OK() bool {
	return t.Backend != ""
}
