// Package speech turns captured audio into text by trying a list of
// recognition backends in order.
package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/logging"
	speechmodel "github.com/zhouzirui/avatharam/backend/internal/model/speech"
)

// Backend 是一个语音识别实现。Transcribe 返回空串表示没有识别到内容。
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, audio speechmodel.CapturedAudio) (string, error)
}

// ExtensionFor maps a MIME type to the file extension backends upload with.
func ExtensionFor(mime string) string {
	return speechmodel.FormatFor(mime)
}

// Bridge 依次尝试各个后端，返回第一个非空结果。永远不向调用方返回 error。
type Bridge struct {
	backends []Backend
	timeout  time.Duration
	logger   logging.Logger
	now      func() time.Time
}

// NewBridge creates a bridge. timeout bounds each backend attempt; <= 0 disables it.
func NewBridge(backends []Backend, timeout time.Duration, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bridge{
		backends: backends,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Backends lists backend names in the order they are tried.
func (b *Bridge) Backends() []string {
	names := make([]string, 0, len(b.backends))
	for _, backend := range b.backends {
		names = append(names, backend.Name())
	}
	return names
}

// Transcribe 返回识别文本；全部失败时 Text 为 NoSpeechRecognized，失败原因记录在 Failures。
func (b *Bridge) Transcribe(ctx context.Context, audio speechmodel.CapturedAudio) speechmodel.Transcription {
	result := speechmodel.Transcription{Text: speechmodel.NoSpeechRecognized, CreatedAt: b.now().UTC()}

	if len(audio.Data) == 0 {
		result.Failures = append(result.Failures, speechmodel.BackendFailure{Reason: "empty audio"})
		return result
	}
	if len(b.backends) == 0 {
		result.Failures = append(result.Failures, speechmodel.BackendFailure{Reason: "no speech backend configured"})
		return result
	}

	for _, backend := range b.backends {
		if ctx.Err() != nil {
			result.Failures = append(result.Failures, speechmodel.BackendFailure{
				Backend: backend.Name(),
				Reason:  ctx.Err().Error(),
			})
			break
		}

		text, err := b.attempt(ctx, backend, audio)
		if err != nil {
			b.logger.Warn("speech backend failed",
				zap.String("backend", backend.Name()),
				zap.String("mime", audio.MIME),
				zap.Error(err))
			result.Failures = append(result.Failures, speechmodel.BackendFailure{Backend: backend.Name(), Reason: err.Error()})
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			result.Failures = append(result.Failures, speechmodel.BackendFailure{Backend: backend.Name(), Reason: "empty transcript"})
			continue
		}

		result.Text = text
		result.Backend = backend.Name()
		b.logger.Debug("speech recognized",
			zap.String("backend", backend.Name()),
			zap.Int("bytes", len(audio.Data)),
			zap.Int("chars", len(text)))
		return result
	}

	return result
}

func (b *Bridge) attempt(ctx context.Context, backend Backend, audio speechmodel.CapturedAudio) (text string, err error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return backend.Transcribe(ctx, audio)
}
