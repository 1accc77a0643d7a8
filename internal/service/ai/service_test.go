package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/avatharam/backend/internal/config"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, reply string, status int) (*httptest.Server, *[]chatRequest, *string) {
	var requests []chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)

		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		body, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests, &auth
}

func newTestService(t *testing.T, baseURL string) *Service {
	chatModel := NewOpenAIChatModel(OpenAIConfig{
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		Model:       "gpt-4o-mini",
		Temperature: 0.6,
		MaxTokens:   512,
	})
	svc, err := NewService(context.Background(), chatModel, "Be brief.", nil)
	require.NoError(t, err)
	return svc
}

func TestReplySendsStatelessTurn(t *testing.T) {
	srv, requests, auth := newChatServer(t, "Hi there", 0)
	svc := newTestService(t, srv.URL)

	reply, err := svc.Reply(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "Bearer sk-test", *auth)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.6, req.Temperature, 1e-6)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "Hello", req.Messages[1].Content)
}

func TestReplyKeepsBracesLiteral(t *testing.T) {
	srv, requests, _ := newChatServer(t, "ok", 0)
	svc := newTestService(t, srv.URL)

	for _, text := range []string{`what is {"a": 1}?`, "{{double}}", "}{"} {
		_, err := svc.Reply(context.Background(), text)
		require.NoError(t, err)
		last := (*requests)[len(*requests)-1]
		assert.Equal(t, text, last.Messages[1].Content)
	}
}

func TestReplyKeepsSystemPromptLiteral(t *testing.T) {
	srv, requests, _ := newChatServer(t, "ok", 0)
	chatModel := NewOpenAIChatModel(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	svc, err := NewService(context.Background(), chatModel, `Reply as JSON like {"answer": "..."}.`, nil)
	require.NoError(t, err)

	_, err = svc.Reply(context.Background(), "Hello")
	require.NoError(t, err)
	require.Len(t, *requests, 1)
	assert.Equal(t, `Reply as JSON like {"answer": "..."}.`, (*requests)[0].Messages[0].Content)
}

func TestReplyPropagatesUpstreamFailure(t *testing.T) {
	srv, _, _ := newChatServer(t, "", http.StatusInternalServerError)
	svc := newTestService(t, srv.URL)

	_, err := svc.Reply(context.Background(), "Hello")
	assert.Error(t, err)
}

func TestReplyEmptyContent(t *testing.T) {
	srv, _, _ := newChatServer(t, "", 0)
	svc := newTestService(t, srv.URL)

	reply, err := svc.Reply(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestStreamReturnsSingleChunk(t *testing.T) {
	srv, _, _ := newChatServer(t, "streamed", 0)
	chatModel := NewOpenAIChatModel(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})

	stream, err := chatModel.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "streamed", msg.Content)
}

func TestGenerateHonoursOptions(t *testing.T) {
	srv, requests, _ := newChatServer(t, "x", 0)
	chatModel := NewOpenAIChatModel(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Temperature: 0.6, MaxTokens: 512})

	_, err := chatModel.Generate(context.Background(),
		[]*schema.Message{schema.UserMessage("hi")},
		model.WithModel("other"), model.WithMaxTokens(16))
	require.NoError(t, err)
	assert.Equal(t, "other", (*requests)[0].Model)
	assert.Equal(t, 16, (*requests)[0].MaxTokens)
}

func TestNewChatModelDisabled(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.ChatConfig{Provider: "openai", Model: "m"})
	assert.ErrorIs(t, err, ErrChatDisabled)

	_, err = NewService(context.Background(), nil, "", nil)
	assert.ErrorIs(t, err, ErrChatDisabled)
}

func TestNewChatModelOpenAI(t *testing.T) {
	m, err := NewChatModel(context.Background(), config.ChatConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIChatModel{}, m)
}
