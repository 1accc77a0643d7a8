// Package ai wraps the chat-completion model behind an eino prompt chain.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/logging"
)

// ErrChatDisabled 表示未配置聊天模型凭证，聊天功能不可用。
var ErrChatDisabled = errors.New("chat model is not configured")

// Replier produces one stateless reply for a user utterance.
type Replier interface {
	Reply(ctx context.Context, userText string) (string, error)
}

// Service 用 system 指令 + 单条用户消息调用模型，不携带历史。
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	logger       logging.Logger
}

var _ Replier = (*Service)(nil)

// NewService compiles the prompt -> model chain.
func NewService(ctx context.Context, chatModel model.BaseChatModel, systemPrompt string, logger logging.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, ErrChatDisabled
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:        runnable,
		systemPrompt: systemPrompt,
		logger:       logger,
	}, nil
}

// Reply 返回模型回复的文本，可能为空串。
func (s *Service) Reply(ctx context.Context, userText string) (string, error) {
	// 变量值按字面填入模板，不会被再次解析。
	input := map[string]any{
		"system": s.systemPrompt,
		"query":  userText,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	if response == nil {
		return "", nil
	}

	s.logger.Debug("chat reply generated", zap.Int("prompt_chars", len(userText)), zap.Int("reply_chars", len(response.Content)))
	return response.Content, nil
}
