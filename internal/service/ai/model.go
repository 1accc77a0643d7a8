package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/avatharam/backend/internal/config"
)

// NewChatModel 根据 CHAT_PROVIDER 创建模型实例。未配置凭证时返回 ErrChatDisabled。
func NewChatModel(ctx context.Context, cfg config.ChatConfig) (model.BaseChatModel, error) {
	if !cfg.Enabled() {
		return nil, ErrChatDisabled
	}

	switch cfg.Provider {
	case "ark":
		return newArkModel(ctx, cfg)
	case "openai", "":
		return NewOpenAIChatModel(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", cfg.Provider)
	}
}

func newArkModel(ctx context.Context, cfg config.ChatConfig) (model.BaseChatModel, error) {
	temperature := float32(cfg.Temperature)
	maxTokens := cfg.MaxTokens

	arkCfg := &ark.ChatModelConfig{
		BaseURL:     cfg.ArkBaseURL,
		Region:      cfg.ArkRegion,
		APIKey:      cfg.ArkAPIKey,
		AccessKey:   cfg.ArkAccessKey,
		SecretKey:   cfg.ArkSecretKey,
		Model:       cfg.ArkModel,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		arkCfg.Timeout = &timeout
	}

	chatModel, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return chatModel, nil
}
