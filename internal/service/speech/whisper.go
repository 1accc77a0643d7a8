package speech

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	speechmodel "github.com/zhouzirui/avatharam/backend/internal/model/speech"
)

// WhisperOptions 配置 OpenAI 兼容的 /audio/transcriptions 接口，BaseURL 可指向本地 whisper 服务。
type WhisperOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// Whisper 通过 openai-go 上传音频文件进行识别。
type Whisper struct {
	client   openai.Client
	model    string
	language string
}

// NewWhisper creates the whisper backend. Retries are left to the bridge.
func NewWhisper(opts WhisperOptions) *Whisper {
	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	} else {
		// 本地兼容服务通常不校验 key，但 SDK 要求非空。
		clientOpts = append(clientOpts, option.WithAPIKey("local"))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"))
	}

	model := opts.Model
	if model == "" {
		model = "whisper-1"
	}
	return &Whisper{
		client:   openai.NewClient(clientOpts...),
		model:    model,
		language: opts.Language,
	}
}

func (w *Whisper) Name() string { return BackendWhisper }

func (w *Whisper) Transcribe(ctx context.Context, audio speechmodel.CapturedAudio) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio.Data), "audio."+ExtensionFor(audio.MIME), audio.MIME),
		Model: openai.AudioModel(w.model),
	}
	if w.language != "" {
		params.Language = openai.String(w.language)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return resp.Text, nil
}
