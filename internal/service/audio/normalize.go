package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/logging"
	"github.com/zhouzirui/avatharam/backend/internal/model/speech"
)

// ErrConverterUnavailable 表示找不到外部转换工具。
var ErrConverterUnavailable = errors.New("audio converter unavailable")

// Converter transcodes a container to 16kHz mono WAV.
type Converter interface {
	ToWav(ctx context.Context, data []byte) ([]byte, error)
}

// FFmpeg runs the ffmpeg binary over stdin/stdout.
type FFmpeg struct {
	Path string
}

// ToWav 调用 ffmpeg 转码为 16kHz 单声道 WAV。
func (f FFmpeg) ToWav(ctx context.Context, data []byte) ([]byte, error) {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConverterUnavailable, err)
	}

	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1", "-ar", "16000",
		"-f", "wav", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}

// Normalized 播放归一化结果。Err 非空时 Data/MIME 为原始输入。
type Normalized struct {
	Data      []byte
	MIME      string
	Converted bool
	Err       error
}

// Normalizer prepares captured audio for browser playback.
type Normalizer struct {
	converter Converter
	logger    logging.Logger
}

// NewNormalizer 创建归一化器；converter 为空时使用默认 ffmpeg。
func NewNormalizer(converter Converter, logger logging.Logger) *Normalizer {
	if converter == nil {
		converter = FFmpeg{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Normalizer{converter: converter, logger: logger}
}

// NeedsConversion reports whether mime must be transcoded for playback.
func NeedsConversion(mime string) bool {
	switch speech.FormatFor(mime) {
	case "webm", "ogg":
		return true
	default:
		return false
	}
}

// NormalizeForPlayback 将 WebM/OGG 转为 WAV，其余格式原样返回。
// 转换失败时回退为原始数据，不会中断流程。
func (n *Normalizer) NormalizeForPlayback(ctx context.Context, data []byte, mime string) Normalized {
	if !NeedsConversion(mime) {
		return Normalized{Data: data, MIME: mime}
	}

	wav, err := n.converter.ToWav(ctx, data)
	if err != nil {
		n.logger.Warn("audio conversion failed, using original bytes",
			zap.String("mime", mime),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return Normalized{Data: data, MIME: mime, Err: err}
	}

	return Normalized{Data: wav, MIME: speech.MIMEWav, Converted: true}
}
