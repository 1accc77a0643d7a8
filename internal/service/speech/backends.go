package speech

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/config"
	"github.com/zhouzirui/avatharam/backend/internal/httpclient"
	"github.com/zhouzirui/avatharam/backend/internal/logging"
)

const (
	BackendWhisper    = "whisper"
	BackendCommand    = "command"
	BackendVolcengine = "volcengine"
	BackendCartesia   = "cartesia"
)

// BuildBackends 按 STT_BACKENDS 的顺序创建已配置凭证的后端，未配置的后端被跳过并记录日志。
func BuildBackends(cfg config.SpeechConfig, logger logging.Logger) []Backend {
	if logger == nil {
		logger = logging.NewNop()
	}

	backends := make([]Backend, 0, len(cfg.Backends))
	seen := make(map[string]bool, len(cfg.Backends))
	for _, name := range cfg.Backends {
		if seen[name] {
			continue
		}
		seen[name] = true

		backend, err := buildBackend(name, cfg, logger)
		if err != nil {
			logger.Info("speech backend disabled", zap.String("backend", name), zap.String("reason", err.Error()))
			continue
		}
		backends = append(backends, backend)
	}
	return backends
}

func buildBackend(name string, cfg config.SpeechConfig, logger logging.Logger) (Backend, error) {
	switch name {
	case BackendWhisper:
		if cfg.WhisperAPIKey == "" && cfg.WhisperBaseURL == "" {
			return nil, fmt.Errorf("no whisper api key or base url")
		}
		return NewWhisper(WhisperOptions{
			APIKey:   cfg.WhisperAPIKey,
			BaseURL:  cfg.WhisperBaseURL,
			Model:    cfg.WhisperModel,
			Language: cfg.Language,
		}), nil
	case BackendCommand:
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("STT_MODEL_PATH not set")
		}
		return NewCommand(CommandOptions{
			Path:      cfg.CommandPath,
			ModelPath: cfg.ModelPath,
			Language:  cfg.Language,
		}), nil
	case BackendVolcengine:
		if cfg.AppID == "" || cfg.AccessToken == "" {
			return nil, fmt.Errorf("SPEECH_APP_ID or SPEECH_ACCESS_TOKEN not set")
		}
		return NewVolcengine(VolcengineOptions{
			URL:         cfg.VolcengineURL,
			AppID:       cfg.AppID,
			AccessToken: cfg.AccessToken,
			ResourceID:  cfg.ResourceID,
			Language:    cfg.Language,
			Logger:      logger,
		}), nil
	case BackendCartesia:
		if cfg.CartesiaAPIKey == "" {
			return nil, fmt.Errorf("CARTESIA_API_KEY not set")
		}
		return NewCartesia(httpclient.New(cartesiaTimeout(cfg.Timeout)), CartesiaOptions{
			APIKey:   cfg.CartesiaAPIKey,
			Model:    cfg.CartesiaModel,
			Language: cfg.Language,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend")
	}
}

func cartesiaTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 120 * time.Second
	}
	return d
}
