package speech

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"

	"github.com/zhouzirui/avatharam/backend/internal/httpclient"
	speechmodel "github.com/zhouzirui/avatharam/backend/internal/model/speech"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
)

// CartesiaOptions 配置 Cartesia 批量识别。
type CartesiaOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// Cartesia 以 multipart 表单上传整段音频。
type Cartesia struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	model   string
	lang    string
}

func NewCartesia(client *httpclient.Client, opts CartesiaOptions) *Cartesia {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = cartesiaBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	return &Cartesia{http: client, baseURL: baseURL, apiKey: opts.APIKey, model: model, lang: opts.Language}
}

func (c *Cartesia) Name() string { return BackendCartesia }

func (c *Cartesia) Transcribe(ctx context.Context, audio speechmodel.CapturedAudio) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+ExtensionFor(audio.MIME))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if c.lang != "" {
		if err := mw.WriteField("language", c.lang); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	resp, err := c.http.PostMultipart(ctx, c.baseURL+"/stt", httpclient.Bearer(c.apiKey), mw.FormDataContentType(),
		buf.Bytes(), map[string]string{"Cartesia-Version": cartesiaVersion})
	if err != nil {
		return "", fmt.Errorf("cartesia request: %w", err)
	}

	text, _ := resp.Body.FirstString("text")
	return text, nil
}
