package speech

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/logging"
	speechmodel "github.com/zhouzirui/avatharam/backend/internal/model/speech"
)

const (
	defaultVolcengineURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	// 服务端的完整请求占用序号 1，音频从 2 开始。
	firstAudioSequence = 2
	// 16kHz 16bit 单声道 200ms。
	audioChunkSize = 6400
	// 大模型 ASR 的成功码。
	volcengineOK = 20000000
)

// VolcengineOptions 配置火山引擎大模型流式识别。
type VolcengineOptions struct {
	URL         string
	AppID       string
	AccessToken string
	ResourceID  string
	Language    string
	// ChunkInterval paces audio packets; zero sends them back to back.
	ChunkInterval time.Duration
	Logger        logging.Logger
}

// Volcengine 通过 WebSocket 二进制协议把整段录音发送给火山引擎 ASR。
type Volcengine struct {
	opts   VolcengineOptions
	dialer *websocket.Dialer
	logger logging.Logger
}

func NewVolcengine(opts VolcengineOptions) *Volcengine {
	if opts.URL == "" {
		opts.URL = defaultVolcengineURL
	}
	if opts.ResourceID == "" {
		opts.ResourceID = "volc.bigasr.sauc.duration"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Volcengine{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger: logger,
	}
}

func (v *Volcengine) Name() string { return BackendVolcengine }

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
	} `json:"request"`
}

type asrResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances,omitempty"`
	} `json:"result"`
}

func (v *Volcengine) buildRequest(connectID string, audio speechmodel.CapturedAudio) asrRequest {
	var req asrRequest
	req.User.UID = connectID
	req.Audio.Language = v.opts.Language
	req.Audio.Format = ExtensionFor(audio.MIME)
	switch req.Audio.Format {
	case "ogg":
		req.Audio.Codec = "opus"
	case "wav":
		req.Audio.Codec = "raw"
		req.Audio.Rate = 16000
		req.Audio.Bits = 16
		req.Audio.Channel = 1
	}
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	return req
}

func (v *Volcengine) Transcribe(ctx context.Context, audio speechmodel.CapturedAudio) (string, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", v.opts.AppID)
	header.Set("X-Api-Access-Key", v.opts.AccessToken)
	header.Set("X-Api-Resource-Id", v.opts.ResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := v.dialer.DialContext(ctx, v.opts.URL, header)
	if err != nil {
		return "", fmt.Errorf("connect to ASR websocket: %w", err)
	}
	defer conn.Close()
	if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
		v.logger.Debug("volcengine asr connected", zap.String("logid", logID), zap.String("connect_id", connectID))
	}

	// 读写阻塞时由 ctx 取消打断。
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	raw, err := sonic.Marshal(v.buildRequest(connectID, audio))
	if err != nil {
		return "", fmt.Errorf("marshal ASR request: %w", err)
	}
	compressed, err := gzipBytes(raw)
	if err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(&frame{
		Type:          fullClientRequest,
		Flags:         noSequence,
		Serialization: jsonSerialization,
		Compression:   gzipCompression,
		Payload:       compressed,
	})); err != nil {
		return "", wrapCtx(ctx, fmt.Errorf("send ASR request: %w", err))
	}

	// 非流式接口：先完整发送音频，再读取最终结果。
	if err := v.sendAudio(ctx, conn, audio.Data); err != nil {
		return "", wrapCtx(ctx, err)
	}

	text, err := v.receive(conn)
	return text, wrapCtx(ctx, err)
}

func (v *Volcengine) sendAudio(ctx context.Context, conn *websocket.Conn, data []byte) error {
	sequence := int32(firstAudioSequence)
	for offset := 0; offset < len(data); offset += audioChunkSize {
		end := min(offset+audioChunkSize, len(data))
		last := end >= len(data)

		chunk, err := gzipBytes(data[offset:end])
		if err != nil {
			return fmt.Errorf("compress audio chunk: %w", err)
		}

		f := &frame{
			Type:          audioOnlyRequest,
			Flags:         positiveSequence,
			Serialization: noSerialization,
			Compression:   gzipCompression,
			Sequence:      sequence,
			Payload:       chunk,
		}
		if last {
			// 负序号表示最后一包。
			f.Flags = negativeSequence
			f.Sequence = -sequence
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(f)); err != nil {
			return fmt.Errorf("send audio chunk: %w", err)
		}
		sequence++

		if !last && v.opts.ChunkInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(v.opts.ChunkInterval):
			}
		}
	}
	return nil
}

func (v *Volcengine) receive(conn *websocket.Conn) (string, error) {
	var text string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read ASR response: %w", err)
		}

		f, err := decodeFrame(data)
		if err != nil {
			return "", fmt.Errorf("decode ASR frame: %w", err)
		}

		switch f.Type {
		case serverError:
			payload, _ := f.payload()
			return "", fmt.Errorf("ASR error %d: %s", f.ErrorCode, strings.TrimSpace(string(payload)))

		case fullServerResponse:
			payload, err := f.payload()
			if err != nil {
				return "", fmt.Errorf("decompress ASR payload: %w", err)
			}
			var resp asrResponse
			if err := sonic.Unmarshal(payload, &resp); err != nil {
				v.logger.Warn("unparseable ASR response", zap.Error(err))
				continue
			}
			if resp.Code != 0 && resp.Code != volcengineOK {
				return "", fmt.Errorf("ASR API error %d: %s", resp.Code, resp.Message)
			}

			candidate := resp.Result.Text
			if candidate == "" {
				parts := make([]string, 0, len(resp.Result.Utterances))
				for _, u := range resp.Result.Utterances {
					parts = append(parts, u.Text)
				}
				candidate = strings.Join(parts, " ")
			}
			if strings.TrimSpace(candidate) != "" {
				text = candidate
			}
			if f.isLast() {
				return text, nil
			}

		default:
			// ack 等其他帧忽略
		}
	}
}

func wrapCtx(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}
